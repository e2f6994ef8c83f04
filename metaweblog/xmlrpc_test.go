package metaweblog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCall(t *testing.T) {
	body := `<?xml version="1.0"?>
<methodCall>
  <methodName> metaWeblog.test </methodName>
  <params>
    <param><value><i4>42</i4></value></param>
    <param><value><i8>-7</i8></value></param>
    <param><value><boolean>0</boolean></value></param>
    <param><value><double>1.5</double></value></param>
    <param><value><dateTime.iso8601>20240314T09:26:53</dateTime.iso8601></value></param>
    <param><value><dateTime.iso8601>2024-03-14T10:26:53+01:00</dateTime.iso8601></value></param>
    <param><value><base64>
      aGVs
      bG8=
    </base64></value></param>
    <param><value>  untyped  </value></param>
    <param><value><nil/></value></param>
    <param><value><struct><member><name>tags</name><value><array><data><value>a</value></data></array></value></member></struct></value></param>
  </params>
</methodCall>`

	name, args, err := decodeCall(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "metaWeblog.test", name)

	when := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, []any{
		42,
		-7,
		false,
		1.5,
		when,
		when,
		[]byte("hello"),
		"  untyped  ",
		nil,
		map[string]any{"tags": []any{"a"}},
	}, args)
}

func TestDecodeCall_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Not XML", "hello"},
		{"No method", "<methodCall><params/></methodCall>"},
		{"Bad int", "<methodCall><methodName>m</methodName><params><param><value><int>x</int></value></param></params></methodCall>"},
		{"Bad boolean", "<methodCall><methodName>m</methodName><params><param><value><boolean>true</boolean></value></param></params></methodCall>"},
		{"Bad date", "<methodCall><methodName>m</methodName><params><param><value><dateTime.iso8601>yesterday</dateTime.iso8601></value></param></params></methodCall>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := decodeCall(strings.NewReader(tc.body))
			assert.Error(t, err)
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	var buf bytes.Buffer
	err := encodeResponse(&buf, map[string]any{
		"b": true,
		"a": []string{"x<y"},
		"n": 3,
	})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "<methodResponse><params><param><value><struct>"+
		"<member><name>a</name><value><array><data><value><string>x&lt;y</string></value></data></array></value></member>"+
		"<member><name>b</name><value><boolean>1</boolean></value></member>"+
		"<member><name>n</name><value><int>3</int></value></member>"+
		"</struct></value></param></params></methodResponse>")

	assert.Error(t, encodeResponse(&bytes.Buffer{}, struct{}{}))
	assert.Error(t, encodeResponse(&bytes.Buffer{}, 1<<40))
}
