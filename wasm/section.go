package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ValidateHeader checks the 8-byte module preamble.
func ValidateHeader(bin []byte) error {
	if len(bin) < 8 {
		return fmt.Errorf("wasm: module too short: %d bytes", len(bin))
	}
	if got := binary.LittleEndian.Uint32(bin); got != Magic {
		return fmt.Errorf("wasm: bad magic %#x", got)
	}
	if got := binary.LittleEndian.Uint32(bin[4:]); got != Version {
		return fmt.Errorf("wasm: unsupported version %d", got)
	}
	return nil
}

// CustomSection scans a module for the first custom section with the given
// name and returns its payload. The second return is false when the module
// carries no such section.
func CustomSection(bin []byte, name string) ([]byte, bool, error) {
	if err := ValidateHeader(bin); err != nil {
		return nil, false, err
	}
	r := bytes.NewReader(bin[8:])
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, false, fmt.Errorf("wasm: section %d size: %w", id, err)
		}
		if uint32(r.Len()) < size {
			return nil, false, fmt.Errorf("wasm: section %d truncated: %d of %d bytes", id, r.Len(), size)
		}
		if id != SectionCustom {
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, false, err
			}
			continue
		}

		before := r.Len()
		nameLen, err := ReadLEB128u(r)
		if err != nil {
			return nil, false, fmt.Errorf("wasm: custom section name length: %w", err)
		}
		consumed := uint32(before - r.Len())
		if consumed+nameLen > size {
			return nil, false, fmt.Errorf("wasm: custom section name overruns section")
		}
		sname := make([]byte, nameLen)
		if _, err := io.ReadFull(r, sname); err != nil {
			return nil, false, err
		}
		payloadLen := size - consumed - nameLen
		if string(sname) != name {
			if _, err := r.Seek(int64(payloadLen), io.SeekCurrent); err != nil {
				return nil, false, err
			}
			continue
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, false, err
		}
		return payload, true, nil
	}
	return nil, false, nil
}

// AppendCustom returns a copy of the module with a custom section of the
// given name appended. Custom sections may appear after any section, so
// appending keeps the module valid.
func AppendCustom(bin []byte, name string, payload []byte) ([]byte, error) {
	if err := ValidateHeader(bin); err != nil {
		return nil, err
	}
	var body bytes.Buffer
	WriteLEB128u(&body, uint32(len(name)))
	body.WriteString(name)
	body.Write(payload)

	out := make([]byte, 0, len(bin)+body.Len()+6)
	out = append(out, bin...)
	out = append(out, SectionCustom)
	out = append(out, EncodeLEB128u(uint32(body.Len()))...)
	out = append(out, body.Bytes()...)
	return out, nil
}

// EmbedInterface attaches an interface description to a module binary.
func EmbedInterface(bin []byte, text string) ([]byte, error) {
	return AppendCustom(bin, InterfaceSection, []byte(text))
}

// ExtractInterface returns the embedded interface description of a module,
// or false when the module has none.
func ExtractInterface(bin []byte) (string, bool, error) {
	payload, ok, err := CustomSection(bin, InterfaceSection)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(payload), true, nil
}
