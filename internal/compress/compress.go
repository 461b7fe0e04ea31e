package compress

import "fmt"

// Compress encodes and decodes stored payloads.
type Compress interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// ByName returns the codec registered under name. An empty name selects Nop.
func ByName(name string) (Compress, error) {
	switch name {
	case "", "none":
		return NewNop(), nil
	case "gzip":
		return NewGZip(), nil
	case "lz4":
		return NewLZ4(), nil
	case "brotli":
		return NewBrotli(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}
