package canon

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEncodeScalars(t *testing.T) {
	Convey("Given scalar values", t, func() {
		cases := []struct {
			in   interface{}
			want string
		}{
			{nil, "null"},
			{true, "true"},
			{false, "false"},
			{int64(42), "42"},
			{int64(-7), "-7"},
			{"hello", `"hello"`},
			{"a\"b\\c", `"a\"b\\c"`},
			{"tab\there", `"tab\there"`},
			{"line1\nline2", `"line1\nline2"`},
			{1.5, "1.5"},
		}

		for _, c := range cases {
			c := c
			Convey("Encoding "+c.want, func() {
				got, err := Marshal(c.in)
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, c.want)
			})
		}
	})
}

func TestEncodeMapKeyOrder(t *testing.T) {
	Convey("Given a map with unsorted keys", t, func() {
		m := map[string]interface{}{
			"zebra": 1,
			"apple": 2,
			"mango": 3,
		}

		Convey("keys are emitted sorted by code point", func() {
			got, err := Marshal(m)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, `{"apple":2,"mango":3,"zebra":1}`)
		})
	})
}

func TestEncodeNestedSlices(t *testing.T) {
	Convey("Given nested slices and maps", t, func() {
		v := map[string]interface{}{
			"list": []interface{}{1, 2, map[string]interface{}{"b": 1, "a": 2}},
		}

		Convey("nested structures are encoded canonically", func() {
			got, err := Marshal(v)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, `{"list":[1,2,{"a":2,"b":1}]}`)
		})
	})
}

func TestEncodeControlCharacter(t *testing.T) {
	Convey("Given a string containing a control character", t, func() {
		Convey("it is escaped as \\u00XX", func() {
			got, err := Marshal("\x01")
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "\"\\u0001\"")
		})
	})
}

func TestEncodeAstralRune(t *testing.T) {
	Convey("Given a string containing a rune outside the BMP", t, func() {
		Convey("it is escaped as a UTF-16 surrogate pair", func() {
			got, err := Marshal("\U0001F600")
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "\"\\ud83d\\ude00\"")
		})
	})
}

func TestEncodeRejectsNaNAndInfinity(t *testing.T) {
	Convey("Given NaN and Infinity", t, func() {
		Convey("NaN is rejected", func() {
			_, err := Marshal(nan())
			So(err, ShouldNotBeNil)
		})

		Convey("+Inf is rejected", func() {
			_, err := Marshal(inf())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestEncodeRejectsCycles(t *testing.T) {
	Convey("Given a self-referential slice", t, func() {
		cyclic := make([]interface{}, 1)
		cyclic[0] = cyclic

		Convey("encoding fails with EncodingError", func() {
			_, err := Marshal(cyclic)
			So(err, ShouldNotBeNil)
			So(err, ShouldHaveSameTypeAs, &EncodingError{})
		})
	})
}

func TestDeterminism(t *testing.T) {
	Convey("Given the same logical value built two different ways", t, func() {
		a := map[string]interface{}{"x": int64(1), "y": []interface{}{"a", "b"}}
		b := map[string]interface{}{"y": []interface{}{"a", "b"}, "x": int64(1)}

		Convey("their canonical encodings are byte-identical", func() {
			bytesA, errA := Marshal(a)
			bytesB, errB := Marshal(b)
			So(errA, ShouldBeNil)
			So(errB, ShouldBeNil)
			So(string(bytesA), ShouldEqual, string(bytesB))
		})
	})
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func inf() float64 {
	var zero float64
	return 1 / zero
}
