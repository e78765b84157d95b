package crash

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// appendReport writes f as one JSON object line into dst. It only appends
// into dst's existing capacity when that suffices, so with a pre-sized arena
// no heap allocation happens. Output layout matches domain.CrashReport.
func appendReport(dst []byte, f *Fault, at time.Time, installID, goVersion, osArch string, trace []byte) []byte {
	dst = append(dst, `{"reason":`...)
	dst = appendJSONString(dst, f.Reason)
	if f.Signal != "" {
		dst = append(dst, `,"signal":`...)
		dst = appendJSONString(dst, f.Signal)
	}
	dst = append(dst, `,"source":`...)
	dst = appendJSONString(dst, f.Source)
	dst = append(dst, `,"timestamp":"`...)
	dst = at.UTC().AppendFormat(dst, time.RFC3339Nano)
	dst = append(dst, `","install_id":`...)
	dst = appendJSONString(dst, installID)
	dst = append(dst, `,"trace":`...)
	dst = appendJSONBytes(dst, trace)
	dst = append(dst, `,"go_version":`...)
	dst = appendJSONString(dst, goVersion)
	dst = append(dst, `,"os_arch":`...)
	dst = appendJSONString(dst, osArch)
	dst = append(dst, "}\n"...)
	return dst
}

const hexDigits = "0123456789abcdef"

func appendJSONString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			dst = appendJSONByte(dst, c)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, `�`...)
		} else {
			dst = append(dst, s[i:i+size]...)
		}
		i += size
	}
	return append(dst, '"')
}

func appendJSONBytes(dst []byte, b []byte) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(b); {
		c := b[i]
		if c < utf8.RuneSelf {
			dst = appendJSONByte(dst, c)
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, `�`...)
		} else {
			dst = append(dst, b[i:i+size]...)
		}
		i += size
	}
	return append(dst, '"')
}

func appendJSONByte(dst []byte, c byte) []byte {
	switch c {
	case '"':
		return append(dst, '\\', '"')
	case '\\':
		return append(dst, '\\', '\\')
	case '\n':
		return append(dst, '\\', 'n')
	case '\r':
		return append(dst, '\\', 'r')
	case '\t':
		return append(dst, '\\', 't')
	}
	if c < 0x20 || c == 0x7f {
		return append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
	}
	return append(dst, c)
}

// panicReason renders a recovered panic value.
func panicReason(v any) string {
	switch x := v.(type) {
	case nil:
		return "panic(nil)"
	case string:
		return x
	case error:
		return x.Error()
	case interface{ String() string }:
		return x.String()
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprintf("%v", v)
	}
}
