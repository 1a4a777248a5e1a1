package bridge

import (
	"errors"
	"strings"
	"time"

	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/logger"
)

// ErrClientConfigNil indicates that a nil ClientConfig was provided.
var ErrClientConfigNil = errors.New("client config is nil")

// ClientConfig represents the configuration parameters of a bridge client.
type ClientConfig struct {
	// host specifies the host of the device.
	host string

	// port specifies the TCP port of the ICONA Bridge service.
	// Defaults to 64100.
	port int

	// connectTimeout bounds the TCP connect.
	// Defaults to 10 seconds.
	connectTimeout time.Duration

	// responseTimeout bounds the wait for each reply.
	// Defaults to 2 seconds.
	responseTimeout time.Duration

	// closeTimeout bounds the wait for a close-channel acknowledgement.
	// Defaults to 2 seconds.
	closeTimeout time.Duration

	// writeTimeout bounds each socket write.
	// Defaults to 5 seconds.
	writeTimeout time.Duration

	// pollInterval is the read deadline of each receive loop iteration.
	// Defaults to 1 second.
	pollInterval time.Duration

	// doorRepeat is the number of extra door-init/open/confirm rounds after the first one.
	// Defaults to 1.
	doorRepeat int

	// closeControlChannel closes the control channel after each actuation.
	// Defaults to false, the channel is left open for follow-up actuations.
	closeControlChannel bool

	logger logger.Logger
}

// NewClientConfig creates a client configuration for the device at host:port with the given options.
//
// A zero port selects icona.DefaultPort.
func NewClientConfig(host string, port int, opts ...ClientOption) (*ClientConfig, error) {
	cfg := &ClientConfig{
		port:            icona.DefaultPort,
		connectTimeout:  10 * time.Second,
		responseTimeout: 2 * time.Second,
		closeTimeout:    2 * time.Second,
		writeTimeout:    5 * time.Second,
		pollInterval:    1 * time.Second,
		doorRepeat:      1,
		logger:          logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if port != 0 {
		if err := withPort(port).apply(cfg); err != nil {
			return cfg, err
		}
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Host returns the device host.
func (cfg *ClientConfig) Host() string { return cfg.host }

// Port returns the device port.
func (cfg *ClientConfig) Port() int { return cfg.port }

// ResponseTimeout returns the reply timeout.
func (cfg *ClientConfig) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// ClientOption represents a functional option for configuring a ClientConfig.
type ClientOption interface {
	apply(*ClientConfig) error
}

type clientOptFunc struct {
	name      string
	applyFunc func(*ClientConfig) error
}

func (o *clientOptFunc) apply(cfg *ClientConfig) error {
	if cfg == nil {
		return ErrClientConfigNil
	}

	return o.applyFunc(cfg)
}

func newClientOptFunc(name string, f func(*ClientConfig) error) *clientOptFunc {
	return &clientOptFunc{name: name, applyFunc: f}
}

func withHost(host string) ClientOption {
	return newClientOptFunc("withHost", func(cfg *ClientConfig) error {
		host = strings.TrimSpace(host)
		if host == "" {
			return errors.New("host is empty")
		}
		cfg.host = host

		return nil
	})
}

func withPort(port int) ClientOption {
	return newClientOptFunc("withPort", func(cfg *ClientConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithLogger sets the logger of the client.
//
// The default is logger.GetLogger().
func WithLogger(l logger.Logger) ClientOption {
	return newClientOptFunc("WithLogger", func(cfg *ClientConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithConnectTimeout sets the TCP connect timeout.
// An error is returned if the timeout is outside the range [10ms, 60s].
//
// The default value is 10 seconds.
func WithConnectTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithConnectTimeout", func(cfg *ClientConfig) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("connect timeout out of range [0.01, 60]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithResponseTimeout sets the timeout of each reply wait.
// An error is returned if the timeout is outside the range [10ms, 60s].
//
// The default value is 2 seconds.
func WithResponseTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithResponseTimeout", func(cfg *ClientConfig) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("response timeout out of range [0.01, 60]")
		}
		cfg.responseTimeout = val

		return nil
	})
}

// WithCloseTimeout sets the timeout of the close-channel acknowledgement wait.
// An error is returned if the timeout is outside the range [10ms, 60s].
//
// The default value is 2 seconds.
func WithCloseTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithCloseTimeout", func(cfg *ClientConfig) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("close timeout out of range [0.01, 60]")
		}
		cfg.closeTimeout = val

		return nil
	})
}

// WithWriteTimeout sets the deadline of each socket write.
// An error is returned if the timeout is outside the range [10ms, 60s].
//
// The default value is 5 seconds.
func WithWriteTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithWriteTimeout", func(cfg *ClientConfig) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("write timeout out of range [0.01, 60]")
		}
		cfg.writeTimeout = val

		return nil
	})
}

// WithPollInterval sets how long each receive loop iteration blocks on the socket.
// An error is returned if the interval is outside the range [10ms, 60s].
//
// The default value is 1 second.
func WithPollInterval(val time.Duration) ClientOption {
	return newClientOptFunc("WithPollInterval", func(cfg *ClientConfig) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("poll interval out of range [0.01, 60]")
		}
		cfg.pollInterval = val

		return nil
	})
}

// WithDoorRepeat sets the number of extra door-init/open/confirm rounds sent after the first one.
// The redundancy masks firmware that drops the first round. An error is returned if n is outside [0, 5].
//
// The default value is 1.
func WithDoorRepeat(n int) ClientOption {
	return newClientOptFunc("WithDoorRepeat", func(cfg *ClientConfig) error {
		if n < 0 || n > 5 {
			return errors.New("door repeat out of range [0, 5]")
		}
		cfg.doorRepeat = n

		return nil
	})
}

// WithCloseControlChannel closes the control channel at the end of every actuation when val is true.
//
// The default value is false.
func WithCloseControlChannel(val bool) ClientOption {
	return newClientOptFunc("WithCloseControlChannel", func(cfg *ClientConfig) error {
		cfg.closeControlChannel = val

		return nil
	})
}
