package main

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvlink/pkg/logger"
)

func TestLoggingExecutorConcurrentPageAccess(t *testing.T) {
	exec := &loggingExecutor{log: logger.Nop(), page: "home"}

	// Each attached remote drives the executor from its own connection
	// goroutine; navigating and reading state must not race.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			page := fmt.Sprintf("page-%d", i)
			for j := 0; j < 50; j++ {
				assert.NoError(t, exec.Navigate(page))
				state, err := exec.AppState()
				assert.NoError(t, err)
				assert.NotEmpty(t, state.CurrentPage)
			}
		}(i)
	}
	wg.Wait()

	state, err := exec.AppState()
	require.NoError(t, err)
	assert.Contains(t, state.CurrentPage, "page-")
}

func TestListenPort(t *testing.T) {
	assert.Equal(t, 8080, listenPort(":8080"))
	assert.Equal(t, 9090, listenPort("0.0.0.0:9090"))
	assert.Equal(t, 0, listenPort("no-port"))
}
