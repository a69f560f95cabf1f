package module

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is the current module image format version.
const ImageVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("module: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// image is the on-the-wire form of a Module.
type image struct {
	Version int         `cbor:"1,keyasint"`
	Name    string      `cbor:"2,keyasint"`
	MVID    string      `cbor:"3,keyasint,omitempty"`
	Sealed  bool        `cbor:"4,keyasint,omitempty"`
	Types   []*TypeDef  `cbor:"5,keyasint"`
	Externs []ExternRef `cbor:"6,keyasint"`
}

func newImage(m *Module, mvid string) *image {
	return &image{
		Version: ImageVersion,
		Name:    m.Name,
		MVID:    mvid,
		Sealed:  m.sealed,
		Types:   m.Types,
		Externs: m.Externs,
	}
}

// Encode serializes a module to canonical CBOR.
func Encode(m *Module) ([]byte, error) {
	return cborEncMode.Marshal(newImage(m, m.MVID))
}

// Decode deserializes a module. Decoded procedures are frozen.
func Decode(data []byte) (*Module, error) {
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("module: unmarshal image: %w", err)
	}
	if img.Version > ImageVersion {
		return nil, fmt.Errorf("module: image version %d is newer than supported version %d", img.Version, ImageVersion)
	}

	m := &Module{
		Name:     img.Name,
		MVID:     img.MVID,
		Types:    img.Types,
		Externs:  img.Externs,
		resolver: StandardExterns,
		sealed:   img.Sealed,
	}
	for _, t := range m.Types {
		for _, p := range t.Procedures {
			if p.Body == nil {
				return nil, fmt.Errorf("module: %s has no body", p.FullName())
			}
			p.frozen = true
		}
	}
	return m, nil
}

// WriteFile encodes m and writes it to path, creating parent directories.
func WriteFile(path string, m *Module) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and decodes a module image.
func ReadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Decode(data)
}
