package ir

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// imageMagic prefixes every program image so that ncd run can tell an image
// from CUE source.
var imageMagic = []byte("NCDB")

// ErrNotImage is returned by UnmarshalProgram for data without the image
// header.
var ErrNotImage = errors.New("not an ncd program image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type image struct {
	Version int      `cbor:"1,keyasint"`
	Hash    string   `cbor:"2,keyasint"`
	Program *Program `cbor:"3,keyasint"`
}

// MarshalProgram encodes p as a deterministic CBOR image.
func MarshalProgram(p *Program) ([]byte, error) {
	hash, err := ProgramHash(p)
	if err != nil {
		return nil, err
	}
	body, err := cborEncMode.Marshal(image{Version: ImageVersion, Hash: hash, Program: p})
	if err != nil {
		return nil, fmt.Errorf("ir: marshal program: %w", err)
	}
	return append(append([]byte{}, imageMagic...), body...), nil
}

// IsImage reports whether data starts with the image header.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, imageMagic)
}

// UnmarshalProgram decodes an image written by MarshalProgram and verifies
// its version and content hash.
func UnmarshalProgram(data []byte) (*Program, error) {
	if !IsImage(data) {
		return nil, ErrNotImage
	}
	var img image
	if err := cbor.Unmarshal(data[len(imageMagic):], &img); err != nil {
		return nil, fmt.Errorf("ir: unmarshal program: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("ir: image version %d, want %d", img.Version, ImageVersion)
	}
	if img.Program == nil {
		return nil, fmt.Errorf("ir: image has no program")
	}
	hash, err := ProgramHash(img.Program)
	if err != nil {
		return nil, err
	}
	if hash != img.Hash {
		return nil, fmt.Errorf("ir: image hash mismatch: stored %s, computed %s", img.Hash, hash)
	}
	return img.Program, nil
}
