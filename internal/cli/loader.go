package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/token"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
)

// LoadError is a program that could not be loaded, with a CUE position
// when one is known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants shared by every command. E2xx program codes come
// from compiler.Validate.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load or compile failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBadImage    = "E006" // Not a .cue file or program image
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDatabase    = "E008" // Trace database error

	ErrCodeUnknownCommand = "E208" // statement names a command no module provides
)

// LoadProgram loads a program from a CUE package directory, a .cue file or
// a compiled image.
func LoadProgram(path string) (*ir.Program, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program: %v", err)}
	}

	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
	}

	prog, err := compiler.LoadProgramPath(path)
	if err != nil {
		return nil, convertCompileError(err, path, info.IsDir())
	}
	return prog, nil
}

// FindCUEFiles returns the .cue files directly in dir. Subdirectories are
// separate CUE packages and are not part of the program.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func convertCompileError(err error, path string, isDir bool) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeLoadFailed,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	if !isDir && filepath.Ext(path) != ".cue" {
		return &LoadError{Code: ErrCodeBadImage, Message: err.Error()}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// checkCommands reports every plain command reg does not provide. Method
// calls resolve against their receiver at run time and are not checked.
func checkCommands(prog *ir.Program, reg *engine.Registry) []compiler.ValidationError {
	var errs []compiler.ValidationError
	for _, proc := range prog.Processes {
		for i, st := range proc.Statements {
			if st.IsMethod() || st.Cmd == "" {
				continue
			}
			if _, ok := reg.Command(st.Cmd); ok {
				continue
			}
			errs = append(errs, compiler.ValidationError{
				Field:   fmt.Sprintf("%s[%d].cmd", proc.Name, i),
				Message: fmt.Sprintf("unknown command %q", st.Cmd),
				Code:    ErrCodeUnknownCommand,
				Line:    st.Pos.Line,
			})
		}
	}
	return errs
}

// loadErrorCode returns the code of a LoadError, or E001.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
