package ncpboot

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// FirmwareImage is an opaque firmware byte stream. Family is declared by
// the catalog for images it supplies and left unspecified for images
// loaded directly from a file.
type FirmwareImage struct {
	Name   string
	Family Family
	Data   []byte
}

// Size returns the image length in bytes.
func (f *FirmwareImage) Size() int {
	return len(f.Data)
}

// LoadFirmware reads a firmware image from disk. Gecko bootloader
// containers (.gbl, .ebl) are used as-is; Intel HEX images are flattened
// into a contiguous byte stream with 0xFF gap fill.
func LoadFirmware(path string) (*FirmwareImage, error) {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gbl", ".ebl":
		data, err = ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read firmware")
		}
	case ".hex":
		data, err = flattenHex(path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported firmware image %s, the bootloader accepts .gbl, .ebl or .hex", filepath.Base(path))
	}
	if len(data) == 0 {
		return nil, errors.Errorf("firmware image %s is empty", filepath.Base(path))
	}
	return &FirmwareImage{Name: filepath.Base(path), Data: data}, nil
}

func flattenHex(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read firmware")
	}
	defer file.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, errors.Wrap(err, "parse hex image")
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, errors.New("hex image holds no data")
	}
	base, end := segments[0].Address, segments[0].Address
	for _, seg := range segments {
		if seg.Address < base {
			base = seg.Address
		}
		if last := seg.Address + uint32(len(seg.Data)); last > end {
			end = last
		}
	}
	out := make([]byte, end-base)
	for i := range out {
		out[i] = 0xFF
	}
	for _, seg := range segments {
		copy(out[seg.Address-base:], seg.Data)
	}
	return out, nil
}
