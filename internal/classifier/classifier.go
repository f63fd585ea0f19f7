// Package classifier defines the contract between the explainability pipeline
// and a pretrained multi-label image classifier.
package classifier

import "errors"

var (
	// ErrLayerNotFound is returned when a layer name cannot be resolved.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrClassOutOfRange is returned for class indices outside [0, N).
	ErrClassOutOfRange = errors.New("class index out of range")
	// ErrGradientsUnsupported is returned by backends that cannot differentiate.
	ErrGradientsUnsupported = errors.New("gradients not supported by classifier")
)

// LayerInfo describes a named intermediate stage of the classifier.
type LayerInfo struct {
	// Name is the fully qualified name, including any enclosing sub-model scopes.
	Name string
	// Shape of the stage output, NHWC.
	Shape Shape
}

// Spatial returns the height and width of the layer output.
func (l LayerInfo) Spatial() (int, int) {
	if len(l.Shape) != 4 {
		return 0, 0
	}
	return l.Shape[1], l.Shape[2]
}

// LayerGradients holds the activations of a layer and the gradient of a single
// class output with respect to those activations. Both are (1, h, w, k).
type LayerGradients struct {
	Activations *Tensor
	Gradients   *Tensor
}

// Classifier is a loaded, immutable multi-label model. Implementations must be
// safe for concurrent use and must not keep gradient state between calls.
type Classifier interface {
	// Labels returns the class names in output order.
	Labels() []string
	// InputShape returns the declared NHWC input shape. Dimensions <= 0 are dynamic.
	InputShape() Shape
	// Predict returns one independent probability per label.
	Predict(x *Tensor) ([]float32, error)
	// Layer resolves a layer by name regardless of sub-model nesting.
	Layer(name string) (LayerInfo, error)
	// LayerOutput returns the activations of the named layer for x.
	LayerOutput(x *Tensor, layer string) (*Tensor, error)
	// LayerGradients returns activations of the named layer and d(y_class)/d(activations).
	LayerGradients(x *Tensor, layer string, class int) (*LayerGradients, error)
	// InputGradients returns d(y_class)/d(x), shaped like x.
	InputGradients(x *Tensor, class int) (*Tensor, error)
	// Close releases runtime resources.
	Close() error
}
