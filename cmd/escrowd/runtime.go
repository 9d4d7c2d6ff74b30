package main

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/sirupsen/logrus"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/contract"
	"github.com/tripartite/escrow/devchain"
	"github.com/tripartite/escrow/orchestrator"
	"github.com/tripartite/escrow/signer"
)

// devFunding is the balance of each generated identity on a devchain
const devFunding = "1000"

// runtime is the wired service: orchestrator, metrics and the identities it
// signs as. Missing identities are nil; commands that need one fail.
type runtime struct {
	env     *orchestrator.Environment
	orch    *orchestrator.Orchestrator
	metrics *orchestrator.Metrics
	log     *logrus.Entry

	arbiter     *signer.KeySigner
	payer       *signer.KeySigner
	beneficiary *signer.KeySigner

	close func()
}

func newLogger(level logrus.Level, out io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(logger).WithField("service", "escrowd")
}

// newRuntime loads the environment and connects to the configured node, or
// starts a devchain when dev is set
func newRuntime(ctx context.Context, dev bool, logOut io.Writer) (*runtime, error) {
	env, err := orchestrator.LoadEnvironment(envFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if env.LogLevel, err = logrus.ParseLevel(logLevel); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	if rpcURL != "" {
		env.RPCURL = rpcURL
	}

	rt := &runtime{
		env:     env,
		log:     newLogger(env.LogLevel, logOut),
		metrics: orchestrator.NewMetrics(),
		close:   func() {},
	}

	var backend orchestrator.Backend
	var bytecode []byte
	if dev {
		backend, bytecode, err = rt.startDevchain()
	} else {
		backend, bytecode, err = rt.connect(ctx)
	}
	if err != nil {
		return nil, err
	}

	rt.orch, err = orchestrator.New(backend, env.Config(bytecode, rt.log))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.metrics.Attach(rt.orch)
	return rt, nil
}

func (rt *runtime) startDevchain() (orchestrator.Backend, []byte, error) {
	chain := devchain.New(devchain.WithLogger(rt.log.WithField("component", "devchain")))
	funding, err := escrow.ParseEther(devFunding)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range []**signer.KeySigner{&rt.arbiter, &rt.payer, &rt.beneficiary} {
		k, err := signer.Generate()
		if err != nil {
			return nil, nil, err
		}
		*s = k
		chain.Fund(k.Address(), new(big.Int).Set(funding))
	}
	rt.log.WithFields(logrus.Fields{
		"chain_id":    devchain.DefaultChainID,
		"arbiter":     rt.arbiter.Address().Hex(),
		"payer":       rt.payer.Address().Hex(),
		"beneficiary": rt.beneficiary.Address().Hex(),
	}).Info("devchain started")
	return chain, devchain.Bytecode, nil
}

func (rt *runtime) connect(ctx context.Context) (orchestrator.Backend, []byte, error) {
	keys := []struct {
		name string
		hex  string
		dst  **signer.KeySigner
	}{
		{"ARBITER_PRIVATE_KEY", rt.env.ArbiterKey, &rt.arbiter},
		{"PAYER_PRIVATE_KEY", rt.env.PayerKey, &rt.payer},
		{"BENEFICIARY_PRIVATE_KEY", rt.env.BeneficiaryKey, &rt.beneficiary},
	}
	for _, k := range keys {
		if k.hex == "" {
			continue
		}
		s, err := signer.NewFromPrivateKey(k.hex)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", k.name, err)
		}
		*k.dst = s
	}

	var bytecode []byte
	artifact, err := contract.LoadArtifact(rt.env.ArtifactPath)
	if err != nil {
		rt.log.WithError(err).Warn("contract artifact unavailable, deployment disabled")
	} else {
		bytecode = artifact.Bytecode
	}

	client, err := orchestrator.Dial(ctx, rt.env.RPCURL, rt.env.ChainID)
	if err != nil {
		return nil, nil, err
	}
	rt.close = client.Close
	rt.log.WithField("rpc", rt.env.RPCURL).Info("connected to node")
	return client, bytecode, nil
}

// identity returns s as an orchestrator identity or an error naming the
// missing role
func identity(role string, s *signer.KeySigner) (orchestrator.Identity, error) {
	if s == nil {
		return nil, fmt.Errorf("no %s identity configured", role)
	}
	return s, nil
}

// parties returns the arbiter and payer the services sign as
func (rt *runtime) parties() (orchestrator.Identity, orchestrator.Identity, error) {
	arbiter, err := identity("arbiter", rt.arbiter)
	if err != nil {
		return nil, nil, err
	}
	payer, err := identity("payer", rt.payer)
	if err != nil {
		return nil, nil, err
	}
	return arbiter, payer, nil
}
