package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	gnarkLogger "github.com/consensys/gnark/logger"
	"github.com/urfave/cli/v2"

	"zkvote/vote-prover/ballotbox"
	"zkvote/vote-prover/config"
	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/server"
	"zkvote/vote-prover/vote"
)

const (
	defaultProofFile = "voting_proof.json"
	shutdownTimeout  = 30 * time.Second
)

func main() {
	runCli()
}

func runCli() {
	gnarkLogger.Set(*logging.Logger())
	app := cli.App{
		Name:                 "vote-prover",
		Usage:                "anonymous vote proofs over a sha256 eligibility tree",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name: "setup",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "depth", Usage: "Eligibility tree depth", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.StringFlag{Name: "output-vkey", Usage: "Output file for the verifying key", Required: false},
				},
				Action: func(context *cli.Context) error {
					depth := uint32(context.Uint("depth"))
					if depth > vote.MaxProofDepth {
						return fmt.Errorf("depth %d exceeds %d", depth, vote.MaxProofDepth)
					}
					path := context.String("output")
					pathVkey := context.String("output-vkey")

					logging.Logger().Info().Uint32("treeDepth", depth).Msg("Running setup")
					system, err := prover.SetupVote(depth)
					if err != nil {
						return err
					}
					if err = prover.WriteProvingSystem(system, path, pathVkey); err != nil {
						return err
					}

					logging.Logger().Info().Msg("Setup completed successfully")
					return nil
				},
			},
			{
				Name: "r1cs",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "depth", Usage: "Eligibility tree depth", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
				},
				Action: func(context *cli.Context) error {
					depth := uint32(context.Uint("depth"))
					path := context.String("output")

					logging.Logger().Info().Msg("Building R1CS")
					cs, err := prover.R1CSVote(depth)
					if err != nil {
						return err
					}
					file, err := os.Create(path)
					if err != nil {
						return err
					}
					defer func(file *os.File) {
						err := file.Close()
						if err != nil {
							logging.Logger().Error().Err(err).Msg("error closing file")
						}
					}(file)
					written, err := cs.WriteTo(file)
					if err != nil {
						return err
					}
					logging.Logger().Info().Int64("bytesWritten", written).Msg("R1CS written to file")
					return nil
				},
			},
			{
				Name: "import-setup",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "depth", Usage: "Eligibility tree depth", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.StringFlag{Name: "pk", Usage: "Proving key", Required: true},
					&cli.StringFlag{Name: "vk", Usage: "Verifying key", Required: true},
				},
				Action: func(context *cli.Context) error {
					logging.Logger().Info().Msg("Importing setup")
					system, err := prover.ImportVoteSetup(uint32(context.Uint("depth")), context.String("pk"), context.String("vk"))
					if err != nil {
						return err
					}
					if err = prover.WriteProvingSystem(system, context.String("output"), ""); err != nil {
						return err
					}
					logging.Logger().Info().Msg("Setup imported successfully")
					return nil
				},
			},
			{
				Name: "export-vk",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keys-file", Aliases: []string{"k"}, Usage: "proving system file", Required: true},
					&cli.StringFlag{Name: "output", Usage: "output file", Required: true},
				},
				Action: func(context *cli.Context) error {
					outputFile := context.String("output")

					system, err := prover.ReadSystemFromFile(context.String("keys-file"))
					if err != nil {
						return fmt.Errorf("failed to read proving system: %v", err)
					}
					if err = os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
						return fmt.Errorf("failed to create output directory: %v", err)
					}
					if err = prover.WriteVerifyingKey(system, outputFile); err != nil {
						return fmt.Errorf("failed to write verification key to file: %v", err)
					}

					logging.Logger().Info().
						Str("file", outputFile).
						Uint32("treeDepth", system.TreeDepth).
						Msg("Verification key exported successfully")
					return nil
				},
			},
			{
				Name: "download-keys",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keys-url", Usage: "Base URL of the published key files", EnvVars: []string{"PROVING_KEYS_URL"}, Required: true},
					&cli.StringFlag{Name: "keys-dir", Usage: "Directory where key files are stored", Value: config.DefaultKeysDir},
					&cli.IntSliceFlag{Name: "depth", Usage: "Tree depths to download", Required: true},
				},
				Action: func(context *cli.Context) error {
					downloader := prover.NewKeyDownloader(prover.DefaultDownloadConfig(context.String("keys-url")))
					for _, depth := range context.IntSlice("depth") {
						if depth < 0 || depth > vote.MaxProofDepth {
							return fmt.Errorf("invalid depth %d", depth)
						}
						path := filepath.Join(context.String("keys-dir"), prover.KeyFileName(uint32(depth)))
						if err := downloader.DownloadKey(path); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "gen-test-params",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "depth", Usage: "depth of the eligibility tree", DefaultText: "20", Value: 20},
					&cli.IntFlag{Name: "voters", Usage: "number of registered voters", DefaultText: "1", Value: 1},
					&cli.IntFlag{Name: "index", Usage: "index of the voting voter", Value: 0},
					&cli.UintFlag{Name: "candidate-id", Usage: "candidate to vote for", Value: 1},
				},
				Action: func(context *cli.Context) error {
					logging.Logger().Info().Msg("Generating test params for the vote circuit")

					params, err := prover.BuildTestParameters(
						context.Int("depth"),
						context.Int("voters"),
						context.Int("index"),
						uint32(context.Uint("candidate-id")),
					)
					if err != nil {
						return err
					}
					r, err := json.Marshal(params)
					if err != nil {
						return err
					}
					fmt.Println(string(r))
					return nil
				},
			},
			{
				Name:  "execute",
				Usage: "run the vote computation natively and print its public values",
				Flags: voteInputFlags(),
				Action: func(context *cli.Context) error {
					params, err := readVoteParameters(context)
					if err != nil {
						return err
					}
					encoded, err := vote.EncodeVoteInput(&params.Input)
					if err != nil {
						return err
					}
					blob, err := vote.Run(encoded)
					if err != nil {
						return err
					}
					outputs, err := vote.DecodePublicOutputs(blob)
					if err != nil {
						return err
					}
					printPublicOutputs(outputs)
					fmt.Printf("Public values: 0x%x\n", blob)
					return nil
				},
			},
			{
				Name:  "prove",
				Usage: "prove a vote and write the proof file",
				Flags: append(voteInputFlags(),
					&cli.StringFlag{Name: "keys-dir", Usage: "Directory where key files are stored", Value: config.DefaultKeysDir},
					&cli.BoolFlag{Name: "use-network", Usage: "Prove on the network prover (NETWORK_PROVER_URL)"},
					&cli.StringFlag{Name: "network-prover-url", Usage: "Network prover URL", EnvVars: []string{"NETWORK_PROVER_URL"}},
					&cli.StringFlag{Name: "output", Usage: "Proof output file", Value: defaultProofFile},
				),
				Action: func(context *cli.Context) error {
					params, err := readVoteParameters(context)
					if err != nil {
						return err
					}
					// Fails before any key is read when the voter is not eligible.
					if _, err = vote.Execute(&params.Input); err != nil {
						return err
					}

					var proof *prover.VoteProof
					if context.Bool("use-network") {
						cfg := config.Default()
						cfg.Network.URL = context.String("network-prover-url")
						cfg.ApplyEnv()
						timeout, err := cfg.NetworkTimeout()
						if err != nil {
							return err
						}
						client := server.NewNetworkProverClient(cfg.Network.URL, cfg.APIKey, timeout)
						if !client.Enabled() {
							return fmt.Errorf("network prover url is not set")
						}
						logging.Logger().Info().Str("url", cfg.Network.URL).Msg("Proving on the network prover")
						proof, err = client.ProveVote(context.Context, params)
						if err != nil {
							return err
						}
					} else {
						systems, err := prover.LoadKeys(context.String("keys-dir"), []uint32{params.Depth()})
						if err != nil {
							return err
						}
						ps, err := prover.SelectProvingSystem(systems, params.Depth())
						if err != nil {
							return err
						}
						start := time.Now()
						proof, err = ps.ProveVote(params)
						if err != nil {
							return err
						}
						logging.Logger().Info().Dur("duration", time.Since(start)).Msg("Proof generated")
					}

					if err = writeJSONFile(context.String("output"), proof); err != nil {
						return err
					}
					outputs, err := proof.PublicOutputs()
					if err != nil {
						return err
					}
					printPublicOutputs(outputs)
					logging.Logger().Info().Str("file", context.String("output")).Msg("Proof written")
					return nil
				},
			},
			{
				Name: "verify",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keys-file", Aliases: []string{"k"}, Usage: "proving system file", Required: true},
					&cli.StringFlag{Name: "proof-file", Usage: "proof file", Value: defaultProofFile},
					&cli.StringFlag{Name: "merkle-root", Usage: "expected eligibility root (hex)", Required: false},
				},
				Action: func(context *cli.Context) error {
					system, err := prover.ReadSystemFromFile(context.String("keys-file"))
					if err != nil {
						return fmt.Errorf("failed to read proving system: %v", err)
					}
					vp, err := readProofFile(context.String("proof-file"))
					if err != nil {
						return err
					}
					outputs, err := vp.PublicOutputs()
					if err != nil {
						return err
					}

					if context.IsSet("merkle-root") {
						expected, err := vote.ParseDigest(context.String("merkle-root"))
						if err != nil {
							return err
						}
						if outputs.MerkleRoot != expected {
							return fmt.Errorf("proof is for root %s, expected %s", outputs.MerkleRoot, expected)
						}
					}
					if vp.TreeDepth != system.TreeDepth {
						return fmt.Errorf("proof has tree depth %d, keys are for depth %d", vp.TreeDepth, system.TreeDepth)
					}
					if err = system.VerifyVote(outputs, vp.Proof); err != nil {
						return fmt.Errorf("verification failed: %v", err)
					}

					printPublicOutputs(outputs)
					logging.Logger().Info().Msg("Verification completed successfully")
					return nil
				},
			},
			{
				Name: "start",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "TOML configuration file", Required: false},
					&cli.BoolFlag{Name: "json-logging", Usage: "enable JSON logging", Required: false},
					&cli.StringFlag{Name: "log-level", Usage: "zerolog level", Required: false},
					&cli.StringFlag{Name: "prover-address", Usage: "address for the prover server", Value: config.DefaultProverAddress, Required: false},
					&cli.StringFlag{Name: "metrics-address", Usage: "address for the metrics server", Value: config.DefaultMetricsAddress, Required: false},
					&cli.StringFlag{Name: "keys-dir", Usage: "Directory where key files are stored", Value: config.DefaultKeysDir, Required: false},
					&cli.StringFlag{Name: "keys-url", Usage: "Base URL to download missing key files from", Required: false},
					&cli.IntSliceFlag{Name: "depth", Usage: "Tree depths to load keys for (default: every key in keys-dir)"},
					&cli.StringFlag{
						Name:  "redis-url",
						Usage: "Redis URL for queue processing (e.g., redis://localhost:6379)",
						Value: "",
					},
					&cli.StringSliceFlag{Name: "public-path", Usage: "Route served without the API key (e.g. /vote/tally)"},
					&cli.StringFlag{Name: "ballot-db", Usage: "Pebble database for the ballot box", Required: false},
					&cli.StringSliceFlag{Name: "eligible-root", Usage: "Eligibility roots the ballot box accepts"},
					&cli.BoolFlag{Name: "ballot-box", Usage: "Serve the ballot box endpoints", Value: false},
					&cli.BoolFlag{
						Name:  "queue-only",
						Usage: "Run only queue workers (no HTTP server)",
						Value: false,
					},
					&cli.BoolFlag{
						Name:  "server-only",
						Usage: "Run only HTTP server (no queue workers)",
						Value: false,
					},
				},
				Action: func(context *cli.Context) error {
					cfg, err := startConfig(context)
					if err != nil {
						return err
					}
					if cfg.JSONLogging {
						logging.SetJSONOutput()
					}
					if err = logging.SetLevel(cfg.LogLevel); err != nil {
						return err
					}

					timeout, err := cfg.NetworkTimeout()
					if err != nil {
						return err
					}
					network := server.NewNetworkProverClient(cfg.Network.URL, cfg.APIKey, timeout)

					var downloader *prover.KeyDownloader
					if cfg.KeysURL != "" {
						downloader = prover.NewKeyDownloader(prover.DefaultDownloadConfig(cfg.KeysURL))
					}
					keys := prover.NewLazyKeyManager(cfg.KeysDir, downloader)
					if err = keys.Preload(cfg.Depths); err != nil {
						if !network.Enabled() {
							return err
						}
						logging.Logger().Warn().Err(err).Msg("Failed to preload proving systems, missing depths go to the network prover")
					}

					cache, err := server.NewProofCache(server.DefaultProofCacheSize)
					if err != nil {
						return err
					}
					proofService := &server.Prover{Keys: keys, Network: network, Cache: cache}

					queueOnly := context.Bool("queue-only")
					serverOnly := context.Bool("server-only")
					enableQueue := cfg.RedisURL != "" && !serverOnly
					enableServer := !queueOnly

					logging.Logger().Info().
						Bool("enable_queue", enableQueue).
						Bool("enable_server", enableServer).
						Uints32("depths", proofService.Depths()).
						Bool("network_prover", network.Enabled()).
						Msg("Starting vote prover service")

					if !enableServer && !enableQueue {
						return fmt.Errorf("at least one of server or queue mode must be enabled")
					}

					var redisQueue *server.RedisQueue
					var worker server.QueueWorker
					var cleanup server.RunningJob
					var instance server.RunningJob

					if enableQueue {
						redisQueue, err = server.NewRedisQueue(cfg.RedisURL)
						if err != nil {
							return fmt.Errorf("failed to connect to Redis: %w", err)
						}
						cleanup = server.StartCleanupRoutines(redisQueue)

						if stats, err := redisQueue.GetQueueStats(); err == nil {
							logging.Logger().Info().Interface("initial_queue_stats", stats).Msg("Redis connection successful")
						}

						worker = server.NewVoteQueueWorker(redisQueue, proofService)
						go worker.Start()
						logging.Logger().Info().Msg("Queue worker started")
					}

					var box *ballotbox.Box
					if enableServer && (context.Bool("ballot-box") || cfg.Ballot.DBPath != "" || cfg.Ballot.UseRedis) {
						box, err = openBallotBox(cfg, keys)
						if err != nil {
							return err
						}
					}

					if enableServer {
						serverConfig := server.Config{
							ProverAddress:  cfg.ProverAddress,
							MetricsAddress: cfg.MetricsAddress,
							APIKey:         cfg.APIKey,
							PublicPaths:    cfg.PublicPaths,
						}
						instance = server.Run(&serverConfig, &server.Backend{Prover: proofService, Queue: redisQueue, Box: box})
						logging.Logger().Info().
							Str("prover_address", serverConfig.ProverAddress).
							Str("metrics_address", serverConfig.MetricsAddress).
							Bool("queue", redisQueue != nil).
							Bool("ballot_box", box != nil).
							Msg("Started server")
					}

					sigint := make(chan os.Signal, 1)
					signal.Notify(sigint, os.Interrupt)
					<-sigint
					logging.Logger().Info().Msg("Received sigint, shutting down")

					if worker != nil {
						logging.Logger().Info().Msg("Stopping queue worker...")
						worker.Stop()
						time.Sleep(2 * time.Second)
					}

					if enableServer {
						logging.Logger().Info().Msg("Stopping HTTP server...")
						stopJob(instance, "HTTP server")
					}

					if box != nil {
						if err := box.Close(); err != nil {
							logging.Logger().Error().Err(err).Msg("Failed to close ballot box")
						}
					}

					if redisQueue != nil {
						stopJob(cleanup, "queue cleanup")
						if stats, err := redisQueue.GetQueueStats(); err == nil {
							logging.Logger().Info().Interface("final_queue_stats", stats).Msg("Final queue statistics")
						}
					}

					logging.Logger().Info().Msg("Shutdown completed")
					return nil
				},
			},
			{
				Name:  "ballot",
				Usage: "record and count vote proofs",
				Subcommands: []*cli.Command{
					{
						Name: "cast",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "db", Usage: "Pebble database directory", Required: true},
							&cli.StringFlag{Name: "keys-dir", Usage: "Directory where key files are stored", Value: config.DefaultKeysDir},
							&cli.StringFlag{Name: "proof-file", Usage: "proof file", Value: defaultProofFile},
							&cli.StringSliceFlag{Name: "eligible-root", Usage: "Eligibility roots to accept (default: any)"},
						},
						Action: func(context *cli.Context) error {
							vp, err := readProofFile(context.String("proof-file"))
							if err != nil {
								return err
							}
							systems, err := prover.LoadKeys(context.String("keys-dir"), []uint32{vp.TreeDepth})
							if err != nil {
								return err
							}
							cfg := config.Default()
							cfg.Ballot.DBPath = context.String("db")
							cfg.Ballot.EligibleRoots = context.StringSlice("eligible-root")
							box, err := openBallotBox(cfg, ballotbox.ProvingSystems(systems))
							if err != nil {
								return err
							}
							defer box.Close()

							receipt, err := box.Cast(context.Context, vp)
							if err != nil {
								return err
							}
							r, err := json.Marshal(receipt)
							if err != nil {
								return err
							}
							fmt.Println(string(r))
							return nil
						},
					},
					{
						Name: "tally",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "db", Usage: "Pebble database directory", Required: true},
						},
						Action: func(context *cli.Context) error {
							store, err := ballotbox.NewPebbleStore(context.String("db"))
							if err != nil {
								return err
							}
							defer store.Close()

							tally, err := store.Tally(context.Context)
							if err != nil {
								return err
							}
							var total uint64
							for _, count := range tally {
								total += count
							}
							r, err := json.Marshal(map[string]interface{}{"tally": tally, "total": total})
							if err != nil {
								return err
							}
							fmt.Println(string(r))
							return nil
						},
					},
				},
			},
			{
				Name: "extract-circuit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
				},
				Action: func(context *cli.Context) error {
					path := context.String("output")

					logging.Logger().Info().Msg("Extracting gnark circuit to Lean")
					circuitString, err := prover.ExtractLean()
					if err != nil {
						return err
					}
					if err = os.WriteFile(path, []byte(circuitString), 0644); err != nil {
						return err
					}
					logging.Logger().Info().Int("bytesWritten", len(circuitString)).Msg("Lean circuit written to file")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Logger().Fatal().Err(err).Msg("App failed.")
	}
}

func voteInputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "params-file", Usage: "VoteParameters JSON file (default: stdin)"},
		&cli.StringFlag{Name: "voter-secret", Usage: "voter secret (hex)"},
		&cli.StringFlag{Name: "voter-nullifier", Usage: "voter nullifier (hex)"},
		&cli.UintFlag{Name: "candidate-id", Usage: "candidate to vote for"},
		&cli.StringSliceFlag{Name: "merkle-proof", Usage: "sibling digests from the leaf level up (hex)"},
		&cli.StringFlag{Name: "merkle-root", Usage: "eligibility root (hex)"},
	}
}

// readVoteParameters takes the inputs from --params-file, from the individual
// flags when --voter-secret is set, and from stdin otherwise.
func readVoteParameters(context *cli.Context) (*prover.VoteParameters, error) {
	var params prover.VoteParameters

	if context.IsSet("voter-secret") {
		err := params.UpdateWithJSON(prover.VoteParametersJSON{
			VoterSecret:    context.String("voter-secret"),
			VoterNullifier: context.String("voter-nullifier"),
			CandidateID:    uint32(context.Uint("candidate-id")),
			MerkleProof:    context.StringSlice("merkle-proof"),
			MerkleRoot:     context.String("merkle-root"),
		})
		if err != nil {
			return nil, err
		}
		return &params, nil
	}

	var data []byte
	var err error
	if path := context.String("params-file"); path != "" {
		data, err = os.ReadFile(path)
	} else {
		logging.Logger().Info().Msg("Reading params from stdin")
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func printPublicOutputs(outputs vote.PublicOutputs) {
	fmt.Printf("Nullifier: %s\n", outputs.Nullifier)
	fmt.Printf("Candidate: %d\n", outputs.CandidateID)
	fmt.Printf("Merkle root: %s\n", outputs.MerkleRoot)
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readProofFile(path string) (*prover.VoteProof, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vp prover.VoteProof
	if err = json.Unmarshal(data, &vp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proof: %w", err)
	}
	if vp.Proof == nil {
		return nil, fmt.Errorf("proof file %s has no proof", path)
	}
	return &vp, nil
}

// startConfig reads the config file, then lets explicitly set flags and the
// environment fill in or override it.
func startConfig(context *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := context.String("config"); path != "" {
		var err error
		if cfg, err = config.ReadConfig(path); err != nil {
			return cfg, err
		}
	}

	if context.IsSet("json-logging") {
		cfg.JSONLogging = context.Bool("json-logging")
	}
	if context.IsSet("log-level") {
		cfg.LogLevel = context.String("log-level")
	}
	if context.IsSet("prover-address") || cfg.ProverAddress == "" {
		cfg.ProverAddress = context.String("prover-address")
	}
	if context.IsSet("metrics-address") || cfg.MetricsAddress == "" {
		cfg.MetricsAddress = context.String("metrics-address")
	}
	if context.IsSet("keys-dir") || cfg.KeysDir == "" {
		cfg.KeysDir = context.String("keys-dir")
	}
	if context.IsSet("keys-url") {
		cfg.KeysURL = context.String("keys-url")
	}
	if context.IsSet("depth") {
		cfg.Depths = cfg.Depths[:0]
		for _, depth := range context.IntSlice("depth") {
			if depth < 0 || depth > vote.MaxProofDepth {
				return cfg, fmt.Errorf("invalid depth %d", depth)
			}
			cfg.Depths = append(cfg.Depths, uint32(depth))
		}
	}
	if context.IsSet("redis-url") {
		cfg.RedisURL = context.String("redis-url")
	}
	if context.IsSet("public-path") {
		cfg.PublicPaths = context.StringSlice("public-path")
	}
	if context.IsSet("ballot-db") {
		cfg.Ballot.DBPath = context.String("ballot-db")
	}
	if context.IsSet("eligible-root") {
		cfg.Ballot.EligibleRoots = context.StringSlice("eligible-root")
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func stopJob(job server.RunningJob, label string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := job.Stop(ctx); err != nil {
		logging.Logger().Error().Err(err).Str("job", label).Msg("Timed out waiting for shutdown")
		return
	}
	logging.Logger().Info().Str("job", label).Msg("Stopped")
}

func openBallotBox(cfg config.Config, verifier ballotbox.Verifier) (*ballotbox.Box, error) {
	roots, err := ballotbox.ParseRoots(cfg.Ballot.EligibleRoots)
	if err != nil {
		return nil, err
	}
	store, err := ballotbox.OpenStore(cfg.Ballot, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		logging.Logger().Warn().Msg("No eligible roots configured, the ballot box accepts proofs for any root")
	}
	return ballotbox.New(store, verifier, roots), nil
}
