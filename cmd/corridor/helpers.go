package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/ipc"
	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/tlsconf"
	"go.klb.dev/corridor/internal/transport"
)

const apiTimeout = 10 * time.Second

// errNoDaemon means no sync daemon answered on the control socket.
var errNoDaemon = errors.New("no sync daemon running")

func clientTLS(v *viper.Viper) (*tls.Config, error) {
	passphrase := v.GetString("tls-passphrase")
	if passphrase == "" {
		return nil, nil
	}
	return tlsconf.ClientConfig(passphrase)
}

// relayAPI builds the HTTP client for the relay, deriving its base URL from
// --ws-url unless --http-url is given.
func relayAPI(v *viper.Viper) (*transport.API, error) {
	base := v.GetString("http-url")
	if base == "" {
		var err error
		if base, err = transport.HTTPBaseFromWS(v.GetString("ws-url")); err != nil {
			return nil, err
		}
	}
	tlsCfg, err := clientTLS(v)
	if err != nil {
		return nil, err
	}
	return transport.NewAPI(base, tlsCfg, apiTimeout), nil
}

// callDaemon sends cmd to the running sync daemon.
func callDaemon(cmd message.Command) (message.Reply, error) {
	if !ipc.IsRunning() {
		return message.Reply{}, errNoDaemon
	}
	reply, err := ipc.Call(cmd)
	if err != nil {
		return message.Reply{}, err
	}
	if !reply.OK {
		return reply, fmt.Errorf("daemon: %s", reply.Error)
	}
	return reply, nil
}

// useDaemon reports whether a CLI command should go through the daemon. An
// explicit relay flag forces a direct request.
func useDaemon(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("ws-url") || cmd.Flags().Changed("http-url") {
		return false
	}
	return ipc.IsRunning()
}

func requireToken(v *viper.Viper) (string, error) {
	token := v.GetString("token")
	if token == "" {
		return "", errors.New("no sync daemon running and --token not set")
	}
	return token, nil
}
