package tensor

import "fmt"

// DataType identifies the element type of a tensor buffer.
type DataType int

// Supported data types. Labels use Int32; everything else is Float32.
const (
	Float32 DataType = iota
	Int32
)

var dtypeNames = [...]string{Float32: "float32", Int32: "int32"}

func (dt DataType) valid() bool {
	return dt >= 0 && int(dt) < len(dtypeNames)
}

// Size returns the element width in bytes.
func (dt DataType) Size() int {
	if !dt.valid() {
		panic(fmt.Sprintf("tensor: unknown data type %d", int(dt)))
	}
	return 4
}

func (dt DataType) String() string {
	if !dt.valid() {
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
	return dtypeNames[dt]
}

// ParseDataType is the inverse of String.
func ParseDataType(s string) (DataType, error) {
	for i, name := range dtypeNames {
		if name == s {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("tensor: unknown data type %q", s)
}
