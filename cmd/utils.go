package cmd

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	btcrpc "github.com/octopus-network/omnity-interoperability-sub003/btcman/rpc"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// Shared Helper function. Create a btc rpc client.
func SetupBtcRpc(server string, port string, username string, password string, params *chaincfg.Params) (*btcrpc.RpcClient, error) {
	_config := btcrpc.RpcClientConfig{
		ServerAddr:  server,
		Port:        port,
		Username:    username,
		Pwd:         password,
		ChainConfig: params,
	}
	r, err := btcrpc.NewRpcClient(&_config)
	if err != nil {
		logger.Errorf("failed to create btc rpc client: %v", err)
		return nil, err
	}
	height, err := r.GetLatestBlockHeight()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("btc node %s:%s unreachable: %w", server, port, err)
	}
	logger.WithField("height", height).Info("connected to btc node")
	return r, nil
}
