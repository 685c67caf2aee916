package bean

// AttributeInfo describes one readable and/or writable attribute of a bean.
type AttributeInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"desc,omitempty"`
	Readable    bool   `json:"rw_read"`
	Writable    bool   `json:"rw_write"`
}

// ParameterInfo describes one declared operation parameter.
type ParameterInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// OperationInfo describes one invocable operation. Operations are resolved
// by name plus arity, so overloads with distinct parameter counts coexist.
type OperationInfo struct {
	Name        string          `json:"name"`
	Parameters  []ParameterInfo `json:"args"`
	ReturnType  string          `json:"ret"`
	Description string          `json:"desc,omitempty"`
}

// Info is the reflective description of a registered bean.
type Info struct {
	ClassName   string          `json:"class"`
	Description string          `json:"desc,omitempty"`
	Attributes  []AttributeInfo `json:"attr"`
	Operations  []OperationInfo `json:"op"`
}

// Attribute returns the metadata of the named attribute.
func (i *Info) Attribute(name string) (AttributeInfo, bool) {
	for _, a := range i.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

// Operation returns the metadata of the named operation with the given
// arity. arity < 0 matches the first operation with the name.
func (i *Info) Operation(name string, arity int) (OperationInfo, bool) {
	for _, o := range i.Operations {
		if o.Name == name && (arity < 0 || len(o.Parameters) == arity) {
			return o, true
		}
	}
	return OperationInfo{}, false
}
