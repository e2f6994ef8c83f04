package metaweblog

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Standard XML-RPC fault codes for malformed calls.
const (
	codeParseError     = -32700
	codeUnknownMethod  = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	dateTimeISO8601    = "20060102T15:04:05"
	maxRequestBodySize = 32 << 20
)

var dateTimeLayouts = []string{
	dateTimeISO8601,
	"20060102T15:04:05Z07:00",
	"20060102T150405",
	"20060102T150405Z07:00",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Fault is an XML-RPC fault returned to the caller.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

type methodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []struct {
		Value rpcValue `xml:"value"`
	} `xml:"params>param"`
}

type rpcValue struct {
	String   *string    `xml:"string"`
	Int      *string    `xml:"int"`
	I4       *string    `xml:"i4"`
	I8       *string    `xml:"i8"`
	Boolean  *string    `xml:"boolean"`
	Double   *string    `xml:"double"`
	DateTime *string    `xml:"dateTime.iso8601"`
	Base64   *string    `xml:"base64"`
	Struct   *rpcStruct `xml:"struct"`
	Array    *rpcArray  `xml:"array"`
	Nil      *struct{}  `xml:"nil"`
	Text     string     `xml:",chardata"`
}

type rpcStruct struct {
	Members []struct {
		Name  string   `xml:"name"`
		Value rpcValue `xml:"value"`
	} `xml:"member"`
}

type rpcArray struct {
	Data []rpcValue `xml:"data>value"`
}

// decodeCall reads a methodCall document and converts its params into Go values:
// string, int, bool, float64, time.Time, []byte, []any, map[string]any or nil.
func decodeCall(r io.Reader) (string, []any, error) {
	var call methodCall
	if err := xml.NewDecoder(r).Decode(&call); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(call.MethodName) == "" {
		return "", nil, fmt.Errorf("missing methodName")
	}

	args := make([]any, 0, len(call.Params))
	for i, p := range call.Params {
		v, err := p.Value.decode()
		if err != nil {
			return "", nil, fmt.Errorf("param %d: %w", i, err)
		}
		args = append(args, v)
	}

	return strings.TrimSpace(call.MethodName), args, nil
}

func (v rpcValue) decode() (any, error) {
	switch {
	case v.String != nil:
		return *v.String, nil
	case v.Int != nil, v.I4 != nil, v.I8 != nil:
		raw := firstNonNil(v.Int, v.I4, v.I8)
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", raw)
		}
		return n, nil
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", *v.Boolean)
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", *v.Double)
		}
		return f, nil
	case v.DateTime != nil:
		return parseDateTime(*v.DateTime)
	case v.Base64 != nil:
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(*v.Base64), ""))
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return data, nil
	case v.Struct != nil:
		m := make(map[string]any, len(v.Struct.Members))
		for _, member := range v.Struct.Members {
			mv, err := member.Value.decode()
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", member.Name, err)
			}
			m[member.Name] = mv
		}
		return m, nil
	case v.Array != nil:
		list := make([]any, 0, len(v.Array.Data))
		for _, item := range v.Array.Data {
			iv, err := item.decode()
			if err != nil {
				return nil, err
			}
			list = append(list, iv)
		}
		return list, nil
	case v.Nil != nil:
		return nil, nil
	}

	// A value without a type element is a string.
	return v.Text, nil
}

func firstNonNil(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

func parseDateTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid dateTime.iso8601 %q", raw)
}

// encodeResponse writes a methodResponse carrying a single value.
func encodeResponse(w io.Writer, result any) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><params><param>")
	if err := writeValue(&buf, result); err != nil {
		return err
	}
	buf.WriteString("</param></params></methodResponse>\n")

	_, err := w.Write(buf.Bytes())
	return err
}

// encodeFault writes a methodResponse carrying a fault.
func encodeFault(w io.Writer, f *Fault) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><fault>")
	if err := writeValue(&buf, map[string]any{
		"faultCode":   f.Code,
		"faultString": f.Message,
	}); err != nil {
		return err
	}
	buf.WriteString("</fault></methodResponse>\n")

	_, err := w.Write(buf.Bytes())
	return err
}

func writeValue(buf *bytes.Buffer, v any) error {
	buf.WriteString("<value>")

	switch val := v.(type) {
	case nil:
		buf.WriteString("<nil/>")
	case string:
		buf.WriteString("<string>")
		if err := xml.EscapeText(buf, []byte(val)); err != nil {
			return err
		}
		buf.WriteString("</string>")
	case int:
		if val > math.MaxInt32 || val < math.MinInt32 {
			return fmt.Errorf("int %d overflows i4", val)
		}
		fmt.Fprintf(buf, "<int>%d</int>", val)
	case bool:
		if val {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case float64:
		fmt.Fprintf(buf, "<double>%s</double>", strconv.FormatFloat(val, 'f', -1, 64))
	case time.Time:
		fmt.Fprintf(buf, "<dateTime.iso8601>%s</dateTime.iso8601>", val.UTC().Format(dateTimeISO8601))
	case []byte:
		fmt.Fprintf(buf, "<base64>%s</base64>", base64.StdEncoding.EncodeToString(val))
	case []string:
		buf.WriteString("<array><data>")
		for _, s := range val {
			if err := writeValue(buf, s); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	case []any:
		buf.WriteString("<array><data>")
		for _, item := range val {
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	case map[string]any:
		buf.WriteString("<struct>")
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			buf.WriteString("<member><name>")
			if err := xml.EscapeText(buf, []byte(k)); err != nil {
				return err
			}
			buf.WriteString("</name>")
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	default:
		return fmt.Errorf("unsupported XML-RPC value of type %T", v)
	}

	buf.WriteString("</value>")
	return nil
}
