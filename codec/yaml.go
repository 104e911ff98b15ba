package codec

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "yaml",
		NewSource: newYAMLSource,
		NewSink:   newYAMLSink,
	})
}

// yamlSource reads one record per document. Decoding goes through
// yaml.Node rather than interface{} so mapping key order survives and
// quoted scalars stay strings.
type yamlSource struct {
	dec  *yaml.Decoder
	fail error
}

func newYAMLSource(r io.Reader, opts Options) (Source, error) {
	return &yamlSource{dec: yaml.NewDecoder(r)}, nil
}

func (s *yamlSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	var node yaml.Node
	if err := s.dec.Decode(&node); err != nil {
		if err == io.EOF {
			s.fail = io.EOF
			return value.Nil, io.EOF
		}
		s.fail = &errs.ParseError{Format: "yaml", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	v, err := fromYAMLNode(&node)
	if err != nil {
		s.fail = &errs.ParseError{Format: "yaml", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	return v, nil
}

func fromYAMLNode(n *yaml.Node) (value.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return value.Nil, nil
		}
		return fromYAMLNode(n.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(n.Alias)
	case yaml.SequenceNode:
		var out value.List
		for _, c := range n.Content {
			v, err := fromYAMLNode(c)
			if err != nil {
				return value.Nil, err
			}
			out.Append(v)
		}
		return out, nil
	case yaml.MappingNode:
		var out value.Dict
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, err := fromYAMLNode(n.Content[i])
			if err != nil {
				return value.Nil, err
			}
			v, err := fromYAMLNode(n.Content[i+1])
			if err != nil {
				return value.Nil, err
			}
			out.Set(k, v)
		}
		return out, nil
	case yaml.ScalarNode:
		return fromYAMLScalar(n)
	}
	return value.Nil, fmt.Errorf("unsupported yaml node kind %d", n.Kind)
}

// fromYAMLScalar promotes plain scalars by tag: numeric strings become
// numbers only when unquoted.
func fromYAMLScalar(n *yaml.Node) (value.Value, error) {
	switch n.Tag {
	case "!!null":
		return value.Nil, nil
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return value.Nil, err
		}
		return value.Bool(b), nil
	case "!!int":
		if v, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return value.Int(v), nil
		}
		if v, err := strconv.ParseUint(n.Value, 0, 64); err == nil {
			return value.UInt(v), nil
		}
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return value.Nil, err
		}
		return value.Double(f), nil
	case "!!float":
		switch n.Value {
		case ".nan", ".NaN", ".NAN":
			return value.Double(math.NaN()), nil
		case ".inf", ".Inf", ".INF", "+.inf":
			return value.Double(math.Inf(1)), nil
		case "-.inf", "-.Inf", "-.INF":
			return value.Double(math.Inf(-1)), nil
		}
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return value.Nil, err
		}
		return value.Double(f), nil
	case "!!binary":
		var b []byte
		if err := n.Decode(&b); err != nil {
			return value.Nil, err
		}
		return value.Bytes(b), nil
	}
	return value.String(n.Value), nil
}

// yamlSink writes one document per record, separated by the encoder's
// own --- markers.
type yamlSink struct {
	enc *yaml.Encoder
}

func newYAMLSink(w io.Writer, opts Options) (Sink, error) {
	return &yamlSink{enc: yaml.NewEncoder(w)}, nil
}

func (s *yamlSink) Write(v value.Value) error {
	node, err := toYAMLNode(v)
	if err != nil {
		return err
	}
	if err := s.enc.Encode(node); err != nil {
		return &errs.SerializeError{Format: "yaml", Msg: err.Error()}
	}
	return nil
}

func (s *yamlSink) Close() error { return s.enc.Close() }

func toYAMLNode(v value.Value) (*yaml.Node, error) {
	scalar := func(tag, val string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: val}
	}
	switch t := v.(type) {
	case value.Bool:
		return scalar("!!bool", strconv.FormatBool(bool(t))), nil
	case value.Int:
		return scalar("!!int", strconv.FormatInt(int64(t), 10)), nil
	case value.UInt:
		return scalar("!!int", strconv.FormatUint(uint64(t), 10)), nil
	case value.Double:
		f := float64(t)
		switch {
		case math.IsNaN(f):
			return scalar("!!float", ".nan"), nil
		case math.IsInf(f, 1):
			return scalar("!!float", ".inf"), nil
		case math.IsInf(f, -1):
			return scalar("!!float", "-.inf"), nil
		}
		return scalar("!!float", strconv.FormatFloat(f, 'g', -1, 64)), nil
	case value.Char:
		return scalar("!!str", string(rune(t))), nil
	case value.String:
		return scalar("!!str", string(t)), nil
	case value.Bytes:
		n := &yaml.Node{}
		if err := n.Encode([]byte(t)); err != nil {
			return nil, err
		}
		return n, nil
	case value.List:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range t.Values() {
			c, err := toYAMLNode(e)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, c)
		}
		return node, nil
	case value.Dict:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, p := range t.Pairs() {
			k, err := toYAMLNode(p.Key)
			if err != nil {
				return nil, err
			}
			val, err := toYAMLNode(p.Val)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, k, val)
		}
		return node, nil
	}
	// Nil
	return scalar("!!null", "null"), nil
}
