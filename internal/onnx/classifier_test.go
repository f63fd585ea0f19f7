package onnx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

func TestClassifier_CallsAfterClose(t *testing.T) {
	shape := classifier.Shape{1, 2, 2, 3}
	c := &Classifier{
		labels:     []string{"Effusion", "Mass"},
		input:      "x",
		inputShape: shape,
		gradLayout: &gradLayout{index: map[string]int{"x_grad": 0}, inputGrad: "x_grad"},
	}
	x := classifier.Zeros(shape)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := c.Predict(x)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := c.InputGradients(x, 1)
			errs <- err
		}()
	}
	require.NoError(t, c.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	require.NoError(t, c.Close())
}

func TestClassifier_CheckInput(t *testing.T) {
	c := &Classifier{labels: []string{"Mass"}, inputShape: classifier.Shape{-1, 4, 4, 3}}
	s := c.InputShape()
	s[0] = 1
	assert.Equal(t, classifier.Shape{-1, 4, 4, 3}, c.InputShape())
	assert.Equal(t, []string{"Mass"}, c.Labels())

	_, err := c.Predict(nil)
	require.Error(t, err)

	_, err = c.Predict(classifier.Zeros(classifier.Shape{1, 3, 4, 4}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	_, err = c.Predict(classifier.Zeros(classifier.Shape{1, 4, 4, 3}))
	assert.ErrorIs(t, err, ErrClosed)
}
