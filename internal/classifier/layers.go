package classifier

import (
	"fmt"
	"strings"
)

func splitScope(r rune) bool {
	return r == '/' || r == '.' || r == ':'
}

// hasScopeSuffix reports whether full ends with the path segments of name.
func hasScopeSuffix(full, name string) bool {
	fs := strings.FieldsFunc(full, splitScope)
	ns := strings.FieldsFunc(name, splitScope)
	if len(ns) == 0 || len(ns) > len(fs) {
		return false
	}
	off := len(fs) - len(ns)
	for i := range ns {
		if fs[off+i] != ns[i] {
			return false
		}
	}
	return true
}

// ResolveLayer finds name among the available layers. An exact match wins;
// otherwise the name must match the trailing scope segments of exactly one
// layer, so "conv5_block16_2_conv" finds "densenet121/conv5_block16_2_conv".
func ResolveLayer(layers []LayerInfo, name string) (LayerInfo, error) {
	if name == "" {
		return LayerInfo{}, fmt.Errorf("%w: empty layer name", ErrLayerNotFound)
	}
	for _, l := range layers {
		if l.Name == name {
			return l, nil
		}
	}
	var matches []LayerInfo
	for _, l := range layers {
		if hasScopeSuffix(l.Name, name) {
			matches = append(matches, l)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return LayerInfo{}, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return LayerInfo{}, fmt.Errorf("%w: %q is ambiguous (%s)", ErrLayerNotFound, name, strings.Join(names, ", "))
	}
}

// CheckClass validates a class index against the number of labels.
func CheckClass(class, n int) error {
	if class < 0 || class >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrClassOutOfRange, class, n)
	}
	return nil
}
