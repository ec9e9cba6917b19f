package main

import (
	"net/http"

	"github.com/rs/zerolog/log"

	catalogx "github.com/mptask/erp-copilot/copilot/catalog"
	executorx "github.com/mptask/erp-copilot/copilot/executor"
	historyx "github.com/mptask/erp-copilot/copilot/history"
	pendingx "github.com/mptask/erp-copilot/copilot/pending"
	servicex "github.com/mptask/erp-copilot/copilot/service"
	suggestx "github.com/mptask/erp-copilot/copilot/suggest"
	configx "github.com/mptask/erp-copilot/pkg/config"
	erpx "github.com/mptask/erp-copilot/pkg/erp"
	llmx "github.com/mptask/erp-copilot/pkg/llm"
	logx "github.com/mptask/erp-copilot/pkg/logger"
	serverx "github.com/mptask/erp-copilot/server"
)

type appConfig struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" split_words:"true" default:":8000"`
	CatalogPath string `envconfig:"CATALOG_PATH" split_words:"true"`
}

func main() {
	logCfg := configx.MustLoad[logx.Config]("LOG")
	logx.Init(*logCfg)

	appCfg := configx.MustLoad[appConfig]("COPILOT")

	doc, err := catalogx.Load(appCfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", appCfg.CatalogPath).Msg("load endpoint catalog")
	}
	catalog, err := catalogx.New(doc)
	if err != nil {
		log.Fatal().Err(err).Msg("build endpoint catalog")
	}

	historyOpts := []historyx.Option{}
	archiveCfg := configx.MustLoad[historyx.UpstashRedisConfig]("HISTORY_ARCHIVE")
	if archiveCfg.URL != "" {
		archive, err := historyx.NewUpstashRedisArchive(*archiveCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("build history archive")
		}
		historyOpts = append(historyOpts, historyx.WithArchive(archive))
		log.Info().Msg("history archive mirror enabled")
	}
	store := historyx.NewStore(historyOpts...)

	erpCfg := configx.MustLoad[erpx.Config]("ERP")
	erpClient, err := erpx.NewClient(*erpCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build erp client")
	}

	llmCfg := configx.MustLoad[llmx.Config]("LLM")
	modelClient, err := llmx.NewClient(*llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm client")
	}

	exec, err := executorx.New(erpClient, store)
	if err != nil {
		log.Fatal().Err(err).Msg("build action executor")
	}
	registry, err := pendingx.NewRegistry(exec)
	if err != nil {
		log.Fatal().Err(err).Msg("build pending registry")
	}

	svc, err := servicex.New(catalog, store, registry, suggestx.NewGenerator(modelClient), erpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("build copilot service")
	}

	reload := func() (catalogx.Summary, error) {
		doc, err := catalogx.Load(appCfg.CatalogPath)
		if err != nil {
			return catalogx.Summary{}, err
		}
		if err := catalog.Reload(doc); err != nil {
			return catalogx.Summary{}, err
		}
		return catalog.Summary(), nil
	}

	srv := serverx.New(svc, catalog, reload)
	log.Info().Str("addr", appCfg.ListenAddr).Msg("erp copilot listening")
	if err := http.ListenAndServe(appCfg.ListenAddr, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}
