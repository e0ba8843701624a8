// Package valkeytest runs a throwaway Valkey container for integration tests
// of the relay store.
package valkeytest

import (
	"context"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
)

const image = "valkey/valkey:8-alpine"

// Start runs Valkey and returns a connected client, the mapped port and a
// termination function. The client is pinged once before Start returns.
func Start(ctx context.Context) (valkey.Client, nat.Port, func(ctx context.Context)) {
	container, err := valkeycontainer.Run(ctx, image)
	if err != nil {
		slogctx.Error(ctx, "Failed to start the relay store container", "error", err)
		panic(err)
	}

	port, err := container.MappedPort(ctx, nat.Port("6379"))
	if err != nil {
		slogctx.Error(ctx, "Failed to map the relay store port", "error", err)
		panic(err)
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{Address(port)},
	})
	if err != nil {
		slogctx.Error(ctx, "Failed to connect to the relay store", "error", err)
		panic(err)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		slogctx.Error(ctx, "Relay store did not answer PING", "error", err)
		panic(err)
	}

	terminate := func(ctx context.Context) {
		client.Close()

		if err := container.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate the relay store container", "error", err)
			panic(err)
		}
	}

	return client, port, terminate
}

// Address is the host:port the container is reachable at.
func Address(port nat.Port) string {
	return net.JoinHostPort("localhost", port.Port())
}

// Config is a relay store configuration pointing at the container. The
// container runs without authentication.
func Config(port nat.Port, prefix string) config.ValKey {
	return config.ValKey{
		Host:     commoncfg.SourceRef{Source: "embedded", Value: Address(port)},
		User:     commoncfg.SourceRef{Source: "embedded"},
		Password: commoncfg.SourceRef{Source: "embedded"},
		Prefix:   prefix,
	}
}
