package scale

import (
	"errors"
	"image"
	"math"
	"testing"
)

const epsilon = 1e-3

var testSizes = Sizes{
	Input:     image.Point{X: 1280, Y: 720},
	NetOutput: image.Point{X: 40, Y: 30},
	Output:    image.Point{X: 640, Y: 480},
}

func TestConvertPoint_Identity(t *testing.T) {
	for _, m := range []CoordinateMode{InputResolution, NetOutputResolution, OutputResolution} {
		x, y := ConvertPoint(12.5, 7.25, m, m, testSizes)
		if x != 12.5 || y != 7.25 {
			t.Errorf("%s -> %s: got (%f, %f), want (12.5, 7.25)", m, m, x, y)
		}
	}
}

func TestConvertPoint_Affine(t *testing.T) {
	x, y := ConvertPoint(20, 15, NetOutputResolution, OutputResolution, testSizes)
	if math.Abs(float64(x)-320) > epsilon || math.Abs(float64(y)-240) > epsilon {
		t.Errorf("got (%f, %f), want (320, 240)", x, y)
	}

	x, y = ConvertPoint(640, 360, InputResolution, OutputResolution, testSizes)
	if math.Abs(float64(x)-320) > epsilon || math.Abs(float64(y)-240) > epsilon {
		t.Errorf("got (%f, %f), want (320, 240)", x, y)
	}
}

func TestConvertPoint_RoundTrip(t *testing.T) {
	modes := []CoordinateMode{InputResolution, NetOutputResolution, OutputResolution}
	points := [][2]float32{{0, 0}, {1, 1}, {17.3, 401.9}, {639.5, 479.5}}

	for _, m1 := range modes {
		for _, m2 := range modes {
			t.Run(m1.String()+"->"+m2.String(), func(t *testing.T) {
				for _, p := range points {
					x, y := ConvertPoint(p[0], p[1], m1, m2, testSizes)
					x, y = ConvertPoint(x, y, m2, m1, testSizes)
					if math.Abs(float64(x-p[0])) > epsilon || math.Abs(float64(y-p[1])) > epsilon {
						t.Errorf("round trip of %v gave (%f, %f)", p, x, y)
					}
				}
			})
		}
	}
}

func TestRemapValue(t *testing.T) {
	tests := []struct {
		name     string
		v        float32
		from, to ValueRange
		want     float32
	}{
		{"zero-one to uchar", 0.5, ZeroToOne, UnsignedChar, 128},
		{"zero-one to uchar top", 1, ZeroToOne, UnsignedChar, 255},
		{"zero-one to uchar clamps high", 1.7, ZeroToOne, UnsignedChar, 255},
		{"zero-one to uchar clamps low", -0.2, ZeroToOne, UnsignedChar, 0},
		{"zero-one to pm-one", 0.25, ZeroToOne, PlusMinusOne, -0.5},
		{"pm-one to zero-one", 0, PlusMinusOne, ZeroToOne, 0.5},
		{"pm-one to uchar", -1, PlusMinusOne, UnsignedChar, 0},
		{"uchar to zero-one", 51, UnsignedChar, ZeroToOne, 0.2},
		{"identity keeps out of range", 3, ZeroToOne, ZeroToOne, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemapValue(tt.v, tt.from, tt.to)
			if math.Abs(float64(got-tt.want)) > epsilon {
				t.Errorf("RemapValue(%f, %s, %s) = %f, want %f", tt.v, tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestRemapValues_InPlace(t *testing.T) {
	vs := []float32{-1, 0, 1}
	RemapValues(vs, PlusMinusOne, ZeroToOne)

	want := []float32{0, 0.5, 1}
	for i := range vs {
		if math.Abs(float64(vs[i]-want[i])) > epsilon {
			t.Errorf("vs[%d] = %f, want %f", i, vs[i], want[i])
		}
	}
}

func TestSizes_Validate(t *testing.T) {
	if err := testSizes.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := testSizes
	bad.NetOutput = image.Point{X: 0, Y: 30}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero net output width")
	}
}

func TestSizes_Check(t *testing.T) {
	partial := Sizes{Input: image.Pt(640, 480), NetOutput: image.Pt(320, 240)}

	if err := partial.Check(InputResolution, NetOutputResolution); err != nil {
		t.Errorf("unexpected error for the two set sizes: %v", err)
	}
	if err := partial.Check(OutputResolution); err == nil {
		t.Error("expected error for unset output size")
	}
	if err := partial.Validate(); err == nil {
		t.Error("Validate should require every size")
	}
	if err := partial.Check(); err != nil {
		t.Errorf("no modes should never fail: %v", err)
	}
}

func TestMode_Families(t *testing.T) {
	t.Run("coordinate mode rejects value range", func(t *testing.T) {
		_, err := ModeZeroToOne.Coordinate()
		if !errors.Is(err, ErrInvalidScaleMode) {
			t.Errorf("expected ErrInvalidScaleMode, got %v", err)
		}
	})

	t.Run("value range rejects coordinate mode", func(t *testing.T) {
		_, err := ModeOutputResolution.ValueRange()
		if !errors.Is(err, ErrInvalidScaleMode) {
			t.Errorf("expected ErrInvalidScaleMode, got %v", err)
		}
	})

	t.Run("parse is case insensitive", func(t *testing.T) {
		r, err := ParseValueRange("unsignedchar")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r != UnsignedChar {
			t.Errorf("got %s, want UnsignedChar", r)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		if _, err := ParseMode("Meters"); !errors.Is(err, ErrInvalidScaleMode) {
			t.Errorf("expected ErrInvalidScaleMode, got %v", err)
		}
	})

	t.Run("coordinate names round trip", func(t *testing.T) {
		for _, name := range []string{"InputResolution", "NetOutputResolution", "OutputResolution"} {
			m, err := ParseMode(name)
			if err != nil {
				t.Fatalf("ParseMode(%q): %v", name, err)
			}
			c, err := m.Coordinate()
			if err != nil {
				t.Fatalf("Coordinate(): %v", err)
			}
			if c.String() != name {
				t.Errorf("got %s, want %s", c, name)
			}
		}
	})
}
