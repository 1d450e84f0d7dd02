package safe

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

//be safe, don't panic

// Run calls fn and turns a panic into an error carrying the stack.
func Run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			switch x := r.(type) {
			case error:
				err = errors.WithMessagef(x, "panic recovered\n%s", stack)
			default:
				err = fmt.Errorf("panic recovered: %v\n%s", x, stack)
			}
		}
	}()
	err = fn()
	return err
}

// Go runs fn on a new goroutine, the returned channel yields its error once and is closed.
func Go(fn func() error) chan error {
	c := make(chan error, 1)
	go func() {
		err := Run(fn)
		c <- err
		close(c)
	}()
	return c
}

func GoChannel(fn func() error, errorChan chan<- error) {
	go func() {
		if err := Run(fn); err != nil {
			errorChan <- err
		}
	}()
}

func GoChannelWithMessage(fn func() error, message string, errorChan chan<- error) {
	go func() {
		if err := Run(fn); err != nil {
			errorChan <- errors.WithMessage(err, message)
		}
	}()
}
