package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "PriceIntel/pkg/logger"
)

func recording(name string, log *[]string, startErr error) ComponentFunc {
	return ComponentFunc{
		ID: name,
		StartFn: func(context.Context) error {
			*log = append(*log, "start:"+name)
			return startErr
		},
		StopFn: func(context.Context) error {
			*log = append(*log, "stop:"+name)
			return nil
		},
	}
}

func TestApp_LifecycleOrder(t *testing.T) {
	var log []string
	app := New(applogger.Nop(), nil, time.Second)
	app.Add(recording("dispatcher", &log, nil))
	app.Add(recording("queue", &log, nil))
	app.OnClose("db", func() error {
		log = append(log, "close:db")
		return nil
	})
	assert.Equal(t, []string{"dispatcher", "queue"}, app.Components())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))
	assert.Equal(t, []string{"start:dispatcher", "start:queue", "stop:queue", "stop:dispatcher", "close:db"}, log)
}

func TestApp_StartFailureUnwinds(t *testing.T) {
	var log []string
	app := New(applogger.Nop(), nil, time.Second)
	app.Add(recording("dispatcher", &log, nil))
	app.Add(recording("consumer", &log, errors.New("no brokers")))
	app.Add(recording("queue", &log, nil))

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start consumer")
	assert.Equal(t, []string{"start:dispatcher", "start:consumer", "stop:dispatcher"}, log)
}
