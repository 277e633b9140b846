package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const blank = "BLANK"

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeCell canonicalizes a single cell value into a stable, typed string.
// It is total: every input produces a value.
func NormalizeCell(v any) string {
	switch x := v.(type) {
	case nil:
		return blank
	case string:
		if x == "" {
			return blank
		}
		return "STR:" + lineEndings.Replace(x)
	case bool:
		if x {
			return "BOOL:1"
		}
		return "BOOL:0"
	case float64:
		return normalizeFloat(x)
	case float32:
		return normalizeFloat(float64(x))
	case int:
		return "NUM:" + strconv.FormatInt(int64(x), 10)
	case int8:
		return "NUM:" + strconv.FormatInt(int64(x), 10)
	case int16:
		return "NUM:" + strconv.FormatInt(int64(x), 10)
	case int32:
		return "NUM:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "NUM:" + strconv.FormatInt(x, 10)
	case uint:
		return "NUM:" + strconv.FormatUint(uint64(x), 10)
	case uint8:
		return "NUM:" + strconv.FormatUint(uint64(x), 10)
	case uint16:
		return "NUM:" + strconv.FormatUint(uint64(x), 10)
	case uint32:
		return "NUM:" + strconv.FormatUint(uint64(x), 10)
	case uint64:
		return "NUM:" + strconv.FormatUint(x, 10)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return normalizeString(x.String())
	case time.Time:
		return "DATE:" + x.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	case *time.Time:
		if x == nil {
			return blank
		}
		return NormalizeCell(*x)
	case fmt.Stringer:
		return normalizeString(x.String())
	}
	if s, ok := canonicalJSON(v); ok {
		return "OBJ:" + s
	}
	return normalizeString(fmt.Sprint(v))
}

func normalizeString(s string) string {
	if s == "" {
		return blank
	}
	return "STR:" + lineEndings.Replace(s)
}

func normalizeFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NUM:NaN"
	case math.IsInf(f, 1):
		return "NUM:+INF"
	case math.IsInf(f, -1):
		return "NUM:-INF"
	}
	return "NUM:" + formatNumber(f)
}

// formatNumber renders f in the shortest round-trip decimal form, switching to
// exponent notation outside [1e-6, 1e21) with an unpadded exponent ("1e-7",
// "1.5e+21"). Negative zero renders as "0".
func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok || len(exp) < 2 {
		return s
	}
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + sign + digits
}

// canonicalJSON encodes maps, slices and structs with sorted map keys and no
// HTML escaping.
func canonicalJSON(v any) (string, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}
