package notice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const voevent = `<?xml version="1.0" encoding="UTF-8"?>
<voe:VOEvent xmlns:voe="http://www.ivoa.net/xml/VOEvent/v2.0" role="observation">
  <What>
    <Param name="TrigID" value="1234567"/>
    <Param name="Rate_Signif" value="12.5"/>
  </What>
  <WhereWhen>
    <ISOTime>2024-03-01T12:00:00.00</ISOTime>
  </WhereWhen>
</voe:VOEvent>`

func TestXMLQuery(t *testing.T) {
	doc, err := Parse(XML, []byte(voevent))
	require.NoError(t, err)

	v, ok := doc.Query("//Param[@name='TrigID']/@value")
	require.True(t, ok)
	assert.Equal(t, "1234567", v)

	v, ok = doc.Query("/voe:VOEvent/WhereWhen/ISOTime")
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T12:00:00.00", v)

	_, ok = doc.Query("//Param[@name='Missing']/@value")
	assert.False(t, ok)

	_, ok = doc.Query("//[broken")
	assert.False(t, ok)

	_, ok = doc.Query("")
	assert.False(t, ok)
}

func TestJSONQuery(t *testing.T) {
	doc, err := Parse(JSON, []byte(`{"superevent_id":"S240301a","event":{"far":1e-9,"significant":true,"classification":{"BNS":0.9}},"urls":["a","b"],"none":null}`))
	require.NoError(t, err)

	v, ok := doc.Query("$.superevent_id")
	require.True(t, ok)
	assert.Equal(t, "S240301a", v)

	v, ok = doc.Query("$.event.significant")
	require.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = doc.Query("$.event.far")
	require.True(t, ok)
	assert.InDelta(t, 1e-9, v, 1e-15)

	v, ok = doc.Query("$.urls[*]")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = doc.Query("$.event.missing")
	assert.False(t, ok)

	_, ok = doc.Query("$.none")
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(JSON, []byte("{"))
	assert.Error(t, err)
	_, err = Parse(Format("yaml"), nil)
	assert.Error(t, err)
	assert.True(t, XML.Valid())
	assert.False(t, Format("csv").Valid())
}
