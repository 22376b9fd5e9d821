package operators

// ONNX element types used by Cast.
const (
	TensorProtoFloat   = 1
	TensorProtoInt64   = 7
	TensorProtoFloat16 = 10
)

// Node represents an ONNX operation node.
// This is a local copy of the relevant fields from onnx.NodeProto
// to avoid import cycles between onnx and operators packages.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Attribute represents a node attribute.
type Attribute struct {
	Name   string
	F      float32
	I      int64
	S      []byte
	Floats []float32
	Ints   []int64
}

func (n *Node) attr(name string) *Attribute {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// HasAttr reports whether the node carries the named attribute.
func HasAttr(node *Node, name string) bool {
	return node.attr(name) != nil
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a := node.attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute or defaultVal.
func GetAttrInts(node *Node, name string, defaultVal []int64) []int64 {
	if a := node.attr(name); a != nil {
		return a.Ints
	}
	return defaultVal
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a := node.attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *Node, name, defaultVal string) string {
	if a := node.attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}
