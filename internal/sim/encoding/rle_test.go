package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint16, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestTerrain_RoundTrip(t *testing.T) {
	cells := []string{"Soil", "Soil", "Sand", "Granite_Rough", "Granite_Rough", "Soil"}
	palette, data := EncodeTerrain(cells)
	if len(palette) != 3 || palette[0] != "Granite_Rough" || palette[2] != "Soil" {
		t.Fatalf("palette = %v", palette)
	}
	out, err := DecodeTerrain(palette, data)
	if err != nil {
		t.Fatalf("DecodeTerrain: %v", err)
	}
	for i := range cells {
		if out[i] != cells[i] {
			t.Fatalf("cell %d: got %s want %s", i, out[i], cells[i])
		}
	}
	if _, err := DecodeTerrain(palette[:1], data); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
