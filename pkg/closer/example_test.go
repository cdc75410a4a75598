package closer

import (
	"fmt"
)

func ExampleCloser() {
	var (
		c     = New()
		polls = make(chan int)
		done  = make(chan int)
	)

	go func() {
		n := 0
		for {
			select {
			case <-c.Chan():
				done <- n
				return
			case <-polls:
				n++
			}
		}
	}()

	for i := 0; i < 3; i++ {
		polls <- i
	}

	c.Close(fmt.Errorf("deployment cancelled"))

	n := <-done
	fmt.Printf("stopped: %s, polls: %d\n", c.Wait(), n)
	// Output: stopped: deployment cancelled, polls: 3
}
