package storage

import (
	"encoding/binary"
	"encoding/json"
)

// GetJSON loads the value at key into v.
// Returns false if the key doesn't exist.
func GetJSON(r Reader, key []byte, v any) (bool, error) {
	data, ok, err := r.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, Error.New("decode %q: %v", key, err)
	}
	return true, nil
}

// DecodeJSON decodes a raw value read by a scan.
func DecodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return Error.New("decode: %v", err)
	}
	return nil
}

// SetJSON stores v at key.
func SetJSON(w Writer, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return Error.New("encode %q: %v", key, err)
	}
	return w.Set(key, data)
}

// GetUint64 loads a big-endian counter. Missing keys read as zero.
func GetUint64(r Reader, key []byte) (uint64, error) {
	data, ok, err := r.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, Error.New("counter %q has %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// SetUint64 stores a big-endian counter.
func SetUint64(w Writer, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return w.Set(key, buf[:])
}
