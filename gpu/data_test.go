package gpu

import "testing"

func TestSliceBytes(t *testing.T) {
	type vertex struct {
		Pos [3]float32
		Tex [2]float32
	}

	b, count, err := SliceBytes([]vertex{{}, {}, {}})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected count to be 3; got %d", count)
	}
	if len(b) != 60 {
		t.Fatalf("expected byte length to be 60; got %d", len(b))
	}

	specs := []interface{}{
		nil,
		[]uint32{},
		42,
		[]*vertex{{}},
		[]string{"a"},
	}
	for specIndex, spec := range specs {
		if _, _, err = SliceBytes(spec); err != ErrUnsupportedData {
			t.Fatalf("[spec %d] expected to get ErrUnsupportedData; got %v", specIndex, err)
		}
	}
}
