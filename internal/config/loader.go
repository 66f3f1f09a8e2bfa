package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/phytec/partitup/internal/perrors"
	"gopkg.in/yaml.v3"
)

// Load streams a YAML document through yaml.v3's low-level Node API and
// builds the Value tree node by node, matching the tagged-scalar rules of
// the configuration schema rather than unmarshalling into Go structs (which
// would hide the heuristic scalar typing this schema specifies).
func Load(r io.Reader) (*Value, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, perrors.New(perrors.ConfigParseFailed, "empty document")
		}
		return nil, perrors.Wrap(perrors.ConfigParseFailed, "decode yaml", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, perrors.New(perrors.ConfigParseFailed, "empty document")
		}
		root = root.Content[0]
	}

	if root.Kind != yaml.MappingNode {
		return nil, perrors.New(perrors.ConfigInvalidRoot,
			fmt.Sprintf("document root must be a mapping, got %s", nodeKindName(root.Kind)))
	}

	val, err := nodeToValue(root)
	if err != nil {
		return nil, perrors.Wrap(perrors.ConfigParseFailed, "build config tree", err)
	}
	return val, nil
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// nodeToValue converts a single yaml.Node into a *Value, recursing into
// mappings and sequences.
func nodeToValue(n *yaml.Node) (*Value, error) {
	switch n.Kind {
	case yaml.MappingNode:
		v := &Value{Kind: KindMapping}
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode := n.Content[i]
			valNode := n.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("mapping key at line %d is not a scalar", keyNode.Line)
			}
			child, err := nodeToValue(valNode)
			if err != nil {
				return nil, err
			}
			v.SetMapping(keyNode.Value, child)
		}
		return v, nil

	case yaml.SequenceNode:
		v := &Value{Kind: KindSequence}
		for _, item := range n.Content {
			child, err := nodeToValue(item)
			if err != nil {
				return nil, err
			}
			v.Sequence = append(v.Sequence, child)
		}
		return v, nil

	case yaml.ScalarNode:
		return scalarToValue(n), nil

	case yaml.AliasNode:
		return nodeToValue(n.Alias)

	default:
		return Null(), nil
	}
}

// scalarToValue maps a scalar node's explicit tag or, for untagged
// scalars, a heuristic type guess in the order: null, bool, int, float,
// string — matching the configuration schema.
func scalarToValue(n *yaml.Node) *Value {
	tag := n.Tag
	s := n.Value

	switch tag {
	case "!!null":
		return Null()
	case "!!bool":
		b, _ := parseBool(s)
		return &Value{Kind: KindBool, Bool: b}
	case "!!int":
		i, radix := parseInt(s)
		return &Value{Kind: KindInt, Int: i, Radix: radix}
	case "!!float":
		f, _ := strconv.ParseFloat(s, 64)
		return &Value{Kind: KindFloat, Float: f}
	case "!!str":
		return &Value{Kind: KindString, String: s}
	}

	// Untagged (or custom-tagged) scalar: heuristically type it.
	if s == "" || s == "~" || strings.EqualFold(s, "null") {
		return Null()
	}
	if b, ok := parseBool(s); ok {
		return &Value{Kind: KindBool, Bool: b}
	}
	if i, radix, ok := tryParseInt(s); ok {
		return &Value{Kind: KindInt, Int: i, Radix: radix}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return &Value{Kind: KindFloat, Float: f}
	}
	return &Value{Kind: KindString, String: s}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func parseInt(s string) (int64, Radix) {
	i, radix, ok := tryParseInt(s)
	if !ok {
		return 0, Radix10
	}
	return i, radix
}

func tryParseInt(s string) (int64, Radix, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		i, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, Radix10, false
		}
		return i, Radix16, true
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, Radix10, false
	}
	return i, Radix10, true
}
