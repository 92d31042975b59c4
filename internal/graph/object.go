package graph

import (
	"bytes"
	"encoding/json"
)

// object is a JSON object that keeps its keys in selection order.
type object []member

type member struct {
	key   string
	value any
}

func (o object) set(key string, value any) object {
	return append(o, member{key: key, value: value})
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
