package gpu

import (
	"reflect"
	"unsafe"
)

// SliceBytes returns a byte view over the backing array of a slice of
// fixed-size values together with its element count. The view aliases the
// slice memory; callers must copy it if the slice may change.
func SliceBytes(data interface{}) ([]byte, int, error) {
	if b, ok := data.([]byte); ok {
		if len(b) == 0 {
			return nil, 0, ErrUnsupportedData
		}
		return b, len(b), nil
	}

	reflVal := reflect.ValueOf(data)
	if reflVal.Kind() != reflect.Slice || reflVal.Len() == 0 {
		return nil, 0, ErrUnsupportedData
	}

	elemType := reflVal.Type().Elem()
	if !fixedSize(elemType) {
		return nil, 0, ErrUnsupportedData
	}

	count := reflVal.Len()
	size := count * int(elemType.Size())
	ptr := unsafe.Pointer(reflVal.Index(0).Addr().Pointer())
	return unsafe.Slice((*byte)(ptr), size), count, nil
}

// Check that a type contains no pointers, so it can be copied as plain memory.
func fixedSize(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Array:
		return fixedSize(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !fixedSize(t.Field(i).Type) {
				return false
			}
		}
		return true
	}
	return false
}
