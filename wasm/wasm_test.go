package wasm

import (
	"bytes"
	"testing"
)

func TestBuilderHeader(t *testing.T) {
	bin := NewBuilder().Bytes()
	if err := ValidateHeader(bin); err != nil {
		t.Fatalf("header: %v", err)
	}
	if len(bin) != 8 {
		t.Fatalf("empty module is %d bytes, want 8", len(bin))
	}
}

func TestValidateHeaderRejects(t *testing.T) {
	cases := map[string][]byte{
		"short":       {0x00, 0x61},
		"bad magic":   {0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00},
		"bad version": {0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00},
	}
	for name, bin := range cases {
		if err := ValidateHeader(bin); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestInterfaceRoundTrip(t *testing.T) {
	text := "export add: func(a: i32, b: i32) -> i32\n"
	b := NewBuilder()
	ti := b.Type([]ValType{ValI32, ValI32}, []ValType{ValI32})
	add := b.Func(ti, nil,
		OpLocalGet, 0,
		OpLocalGet, 1,
		OpI32Add,
	)
	b.ExportFunc("add", add).Interface(text)
	bin := b.Bytes()

	got, ok, err := ExtractInterface(bin)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ok {
		t.Fatal("interface section not found")
	}
	if got != text {
		t.Fatalf("got %q, want %q", got, text)
	}
}

func TestEmbedInterface(t *testing.T) {
	bin := NewBuilder().Memory(1).Bytes()
	if _, ok, err := ExtractInterface(bin); err != nil || ok {
		t.Fatalf("fresh module: ok=%v err=%v", ok, err)
	}
	bin, err := EmbedInterface(bin, "export f: func()")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	got, ok, err := ExtractInterface(bin)
	if err != nil || !ok {
		t.Fatalf("extract: ok=%v err=%v", ok, err)
	}
	if got != "export f: func()" {
		t.Fatalf("got %q", got)
	}
}

func TestCustomSectionSkipsOthers(t *testing.T) {
	b := NewBuilder().Memory(1)
	b.Custom("name", []byte("module-name-payload"))
	b.Custom("target", []byte("payload"))
	bin := b.Bytes()

	got, ok, err := CustomSection(bin, "target")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Fatalf("got %q", got)
	}

	if _, ok, _ := CustomSection(bin, "absent"); ok {
		t.Fatal("found a section that does not exist")
	}
}

func TestCustomSectionTruncated(t *testing.T) {
	b := NewBuilder()
	b.Custom("x", []byte("data"))
	bin := b.Bytes()
	if _, _, err := CustomSection(bin[:len(bin)-2], "x"); err == nil {
		t.Fatal("truncated module accepted")
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 300, 1 << 20, 0xFFFFFFFF} {
		var buf bytes.Buffer
		WriteLEB128u(&buf, v)
		got, err := ReadLEB128u(&buf)
		if err != nil {
			t.Fatalf("%d: %v", v, err)
		}
		if got != v {
			t.Fatalf("got %d, want %d", got, v)
		}
	}
}
