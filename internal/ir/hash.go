package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// the algorithm to change without colliding with old hashes.
const (
	DomainProgram = "ncd/program/v1"
	DomainTrace   = "ncd/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramHash identifies a program by content. Source positions are not
// part of the hash, so reformatting a file keeps its identity.
func ProgramHash(p *Program) (string, error) {
	procs := make([]any, len(p.Processes))
	for i, proc := range p.Processes {
		stmts := make([]any, len(proc.Statements))
		for j, st := range proc.Statements {
			args := make([]any, len(st.Args))
			for k, a := range st.Args {
				args[k] = exprCanonical(a)
			}
			stmts[j] = map[string]any{
				"name": st.Name,
				"obj":  st.Object,
				"cmd":  st.Cmd,
				"args": args,
			}
		}
		procs[i] = map[string]any{
			"name":       proc.Name,
			"template":   proc.Template,
			"statements": stmts,
		}
	}

	canonical, err := MarshalCanonical(map[string]any{"processes": procs})
	if err != nil {
		return "", fmt.Errorf("ProgramHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProgram, canonical), nil
}

// MustProgramHash is like ProgramHash but panics on error.
func MustProgramHash(p *Program) string {
	h, err := ProgramHash(p)
	if err != nil {
		panic(err)
	}
	return h
}

// TraceHash hashes an already canonical trace snapshot.
func TraceHash(canonical []byte) string {
	return hashWithDomain(DomainTrace, canonical)
}

func exprCanonical(e Expr) any {
	switch e.Kind {
	case ExprString:
		return []any{"s", e.Str}
	case ExprVar:
		return []any{"v", e.Str}
	case ExprList:
		elems := make([]any, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = exprCanonical(el)
		}
		return []any{"l", elems}
	case ExprMap:
		entries := make([]any, len(e.Entries))
		for i, en := range e.Entries {
			entries[i] = []any{exprCanonical(en.Key), exprCanonical(en.Value)}
		}
		return []any{"m", entries}
	default:
		return []any{"?"}
	}
}
