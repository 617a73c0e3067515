package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"

	"github.com/gridhop/transferpatterns/pkg/builder"
	"github.com/gridhop/transferpatterns/pkg/chunkmerger"
	"github.com/gridhop/transferpatterns/pkg/config"
	"github.com/gridhop/transferpatterns/pkg/database"
	"github.com/gridhop/transferpatterns/pkg/geoindex"
	"github.com/gridhop/transferpatterns/pkg/materializer"
	"github.com/gridhop/transferpatterns/pkg/query"
	"github.com/gridhop/transferpatterns/pkg/redisclient"
	"github.com/gridhop/transferpatterns/pkg/streetrouter"
	"github.com/gridhop/transferpatterns/pkg/timetableview"
	"github.com/gridhop/transferpatterns/pkg/tpindex"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

func main() {
	if os.Getenv("TRANSFERPATTERNS_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("TRANSFERPATTERNS_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "transferpatterns",
		Description: "Build and query transfer patterns for a transit network",

		Commands: []*cli.Command{
			buildCommand(),
			mergeCommand(),
			enqueueCommand(),
			workCommand(),
			queryCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// openTimetable connects to the configured Mongo timetable store and
// loads it into memory for serviceDate; a build or query reads the
// timetable once per invocation, never streamed.
func openTimetable(c *cli.Context, cfg *config.Config, serviceDate time.Time) (timetableview.TimetableView, error) {
	if err := database.ConnectMongoDB(cfg.Database); err != nil {
		return nil, fmt.Errorf("connecting to timetable store: %w", err)
	}

	return timetableview.LoadFromMongo(c.Context, database.MongoGlobalInstance.Database, serviceDate)
}

func stopAndPatternIndexes(view timetableview.TimetableView) (map[string]*tpmodel.Stop, map[string]*tpmodel.TripPattern) {
	stopsByID := map[string]*tpmodel.Stop{}
	for _, s := range view.Stops() {
		stopsByID[s.PrimaryIdentifier] = s
	}
	patternsByCode := map[string]*tpmodel.TripPattern{}
	for _, p := range view.TripPatterns() {
		patternsByCode[p.Code] = p
	}
	return stopsByID, patternsByCode
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "build one chunk of the transfer-pattern index",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "output", Required: true, Usage: "build directory chunk files are written under"},
			&cli.IntFlag{Name: "chunks", Required: true},
			&cli.IntFlag{Name: "chunk", Required: true},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			serviceDate := time.Now().Truncate(24 * time.Hour)

			view, err := openTimetable(c, cfg, serviceDate)
			if err != nil {
				return err
			}

			router := streetrouter.NewHaversineRouter(cfg.MaxWalkDistanceMetres)

			o := builder.New(cfg, view, router, serviceDate, c.String("output"), "")

			if err := o.SaveChunk(c.Context, c.Int("chunk"), c.Int("chunks")); err != nil {
				return err
			}

			log.Info().Int("chunk", c.Int("chunk")).Int("chunks", c.Int("chunks")).Msg("chunk build complete")
			return nil
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "merge every chunk_<n>_<m> file in --dir into merged/<graph filename>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "dir", Required: true},
			&cli.IntFlag{Name: "chunks", Required: true},
			&cli.StringFlag{Name: "graph-filename", Value: "transferpatterns.graph"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			serviceDate := time.Now().Truncate(24 * time.Hour)

			view, err := openTimetable(c, cfg, serviceDate)
			if err != nil {
				return err
			}

			stopsByID, patternsByCode := stopAndPatternIndexes(view)

			chunks := c.Int("chunks")
			dir := c.String("dir")

			loaded := make([]*tpmodel.TransferPatternIndex, 0, chunks)
			for n := 1; n <= chunks; n++ {
				f, err := os.Open(builder.ChunkFilePath(dir, n, chunks))
				if err != nil {
					return err
				}
				idx, err := tpindex.Unmarshal(f, stopsByID, patternsByCode)
				f.Close()
				if err != nil {
					return err
				}
				loaded = append(loaded, idx)
			}

			merged, err := chunkmerger.Merge(c.Context, loaded)
			if err != nil {
				return err
			}

			mergedPath := builder.MergedFilePath(dir, c.String("graph-filename"))
			if err := os.MkdirAll(filepath.Dir(mergedPath), 0o755); err != nil {
				return err
			}

			f, err := os.Create(mergedPath)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := tpindex.Marshal(f, merged); err != nil {
				return err
			}

			log.Info().Int("chunks", chunks).Str("output", mergedPath).Msg("merge complete")
			return nil
		},
	}
}

func enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "publish one chunk-build job per chunk onto the rmq work queue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.IntFlag{Name: "build-id", Required: true},
			&cli.IntFlag{Name: "chunks", Required: true},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			if err := redisclient.Connect(cfg.Redis); err != nil {
				return err
			}
			if err := database.ConnectPostgres(cfg.Database); err != nil {
				return err
			}

			if err := builder.Enqueue(redisclient.Queue, database.GlobalGorm, c.Int("build-id"), c.Int("chunks")); err != nil {
				return err
			}

			log.Info().Int("buildId", c.Int("build-id")).Int("chunks", c.Int("chunks")).Msg("chunk jobs enqueued")
			return nil
		},
	}
}

func workCommand() *cli.Command {
	return &cli.Command{
		Name:  "work",
		Usage: "consume chunk-build jobs off the rmq work queue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "output", Required: true},
			&cli.StringFlag{Name: "name", Value: "worker"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			serviceDate := time.Now().Truncate(24 * time.Hour)

			view, err := openTimetable(c, cfg, serviceDate)
			if err != nil {
				return err
			}

			if err := redisclient.Connect(cfg.Redis); err != nil {
				return err
			}
			if err := database.ConnectPostgres(cfg.Database); err != nil {
				return err
			}

			router := streetrouter.NewHaversineRouter(cfg.MaxWalkDistanceMetres)
			o := builder.New(cfg, view, router, serviceDate, c.String("output"), "")

			worker := &builder.Worker{
				Orchestrator: o,
				GormDB:       database.GlobalGorm,
				Name:         c.String("name"),
			}

			if err := builder.StartWorker(redisclient.Queue, worker); err != nil {
				return err
			}

			log.Info().Str("name", worker.Name).Msg("worker consuming chunk-build jobs")
			select {}
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "find journeys between two stops using a merged index",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "graph", Required: true, Usage: "path to merged/<graph filename>"},
			&cli.StringFlag{Name: "from", Required: true},
			&cli.StringFlag{Name: "to", Required: true},
			&cli.StringFlag{Name: "inject-delay", Usage: "tripPatternCode=seconds, demo-injects a realtime delay before querying"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			serviceDate := time.Now().Truncate(24 * time.Hour)

			view, err := openTimetable(c, cfg, serviceDate)
			if err != nil {
				return err
			}

			stopsByID, patternsByCode := stopAndPatternIndexes(view)

			f, err := os.Open(c.String("graph"))
			if err != nil {
				return err
			}
			defer f.Close()

			idx, err := tpindex.Unmarshal(f, stopsByID, patternsByCode)
			if err != nil {
				return err
			}

			if injected := c.String("inject-delay"); injected != "" {
				if err := injectDemoDelay(view, patternsByCode, injected); err != nil {
					return err
				}
			}

			geoIdx, err := geoindex.Connect(cfg.Elasticsearch)
			if err != nil {
				return err
			}

			var walkCache *materializer.WalkCache
			if err := redisclient.Connect(cfg.Redis); err != nil {
				log.Warn().Err(err).Msg("query: walk cache disabled, redis unavailable")
			} else {
				walkCache = materializer.NewWalkCache(redisclient.Client)
			}

			from, ok := stopsByID[c.String("from")]
			if !ok {
				return fmt.Errorf("query: unknown from stop %q", c.String("from"))
			}
			to, ok := stopsByID[c.String("to")]
			if !ok {
				return fmt.Errorf("query: unknown to stop %q", c.String("to"))
			}

			engine := query.Engine{
				Index:     idx,
				View:      view,
				Router:    streetrouter.NewHaversineRouter(cfg.MaxWalkDistanceMetres),
				GeoIndex:  geoIdx,
				WalkCache: walkCache,
			}

			journeys, err := engine.FindJourneys(c.Context, query.Request{
				From:                  query.Endpoint{Stop: from},
				To:                    query.Endpoint{Stop: to},
				DateTime:              time.Now(),
				MaxWalkDistanceMetres: cfg.MaxWalkDistanceMetres,
			})
			if err != nil {
				return err
			}

			pretty.Println(journeys)
			return nil
		},
	}
}

// injectDemoDelay parses a "code=seconds" flag value and installs it as
// a realtime overlay, so dynamic arcs can be exercised from the CLI
// without a live realtime feed.
func injectDemoDelay(view timetableview.TimetableView, patternsByCode map[string]*tpmodel.TripPattern, flagValue string) error {
	var code string
	var secs int
	if _, err := fmt.Sscanf(flagValue, "%[^=]=%d", &code, &secs); err != nil {
		return fmt.Errorf("query: malformed --inject-delay %q: %w", flagValue, err)
	}

	pattern, ok := patternsByCode[code]
	if !ok {
		return fmt.Errorf("query: unknown trip pattern %q for --inject-delay", code)
	}

	scenario, err := tpmodel.NewDelayScenario([]tpmodel.DelayScenarioEntry{{TripPattern: pattern, MinDelaySecs: secs}})
	if err != nil {
		return err
	}

	view.SetOverlay(timetableview.Overlay{Scenario: scenario})
	return nil
}
