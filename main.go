package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"littletrack/internal/clmiddleware"
	"littletrack/internal/clredis"
	"littletrack/internal/cltemplates"
	handlers_api "littletrack/internal/handlers/api"
	handlers_beacon "littletrack/internal/handlers/beacon"
	"littletrack/internal/models/clconfig"
	"littletrack/internal/models/cllog"
	"littletrack/internal/models/clmarkdown"
	"littletrack/internal/models/clmetrics"
	"littletrack/internal/models/clnetwork"
	"littletrack/internal/models/clstats"
	"littletrack/internal/models/cltracking"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const VERSION string = "0.3.0"

// global instance
var (
	configuration *clconfig.Config
	BuildID       string
)

// services regroupe l'état partagé par les handlers
type services struct {
	store      *cltracking.Store
	engine     *cltracking.Engine
	classifier *clnetwork.Classifier
	stats      *clstats.Service
	templates  *cltemplates.Templates
	closers    []io.Closer
}

func (s *services) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
}

func initConfiguration() {
	configFile, shouldCreateExample, versionDisplay, err := parseCommandLineArgs()
	if err != nil {
		fmt.Println("Usage:")
		fmt.Println("  littletrack -config littletrack.yaml")
		fmt.Println("  littletrack -example  (pour créer un fichier exemple)")
		fmt.Println("  littletrack -version  (affiche la version)")
		os.Exit(1)
	}

	if versionDisplay {
		println(VERSION)
		os.Exit(0)
	}

	clconfig.CreateExample(shouldCreateExample, configFile)

	conf, err := clconfig.LoadConfig(configFile)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	clconfig.ApplyEnv(conf)
	if err := conf.Validate(); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	configuration = conf
}

// buildClassifier assemble les bases locales puis le service externe derrière un disjoncteur
func buildClassifier(cfg clconfig.GeoIPConfig) (*clnetwork.Classifier, []io.Closer, error) {
	var local, external []clnetwork.Provider
	var closers []io.Closer

	if cfg.CityDB != "" || cfg.ASNDB != "" {
		mm, err := clnetwork.NewMaxMindProvider(cfg.CityDB, cfg.ASNDB)
		if err != nil {
			return nil, nil, err
		}
		local = append(local, mm)
		closers = append(closers, mm)
	}

	if cfg.External.Enabled {
		ipinfo := clnetwork.NewIPInfoProvider(cfg.External.BaseURL, cfg.External.Token, cfg.External.Timeout)
		external = append(external, clnetwork.NewBreakerProvider(ipinfo))
	}

	return clnetwork.NewClassifier(local, external, cfg.External.Timeout), closers, nil
}

func initServices(ctx context.Context, conf *clconfig.Config) (*services, error) {
	svc := &services{}

	classifier, closers, err := buildClassifier(conf.GeoIP)
	if err != nil {
		return nil, err
	}
	svc.classifier = classifier
	svc.closers = append(svc.closers, closers...)

	svc.templates, err = cltemplates.Load(conf.Production)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("templates: %w", err)
	}

	if conf.Stats.Enabled {
		client, err := clredis.New(ctx, conf.Stats.Redis.Addr, conf.Stats.Redis.Db)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.stats = clstats.NewService(client)
		svc.closers = append(svc.closers, client)
	}

	svc.store = cltracking.NewStore()
	svc.engine = cltracking.NewEngine(svc.store)
	return svc, nil
}

func newServer(svc *services) *gin.Engine {
	if configuration.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// sans proxy déclaré, l'adresse vue est celle de la connexion
	if err := r.SetTrustedProxies(configuration.TrustedProxies); err != nil {
		log.Fatal().Err(err).Msg("Invalid trusted proxies")
	}
	if configuration.TrustedPlatform != "" {
		switch configuration.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = configuration.TrustedPlatform
		}
	}

	// parser les templates
	r.SetHTMLTemplate(svc.templates.HTML)

	return r
}

func setMiddleware(r *gin.Engine) {
	clmiddleware.InitMiddleware(r, configuration.Production)
}

func setRoutes(r *gin.Engine, svc *services) {
	//default
	r.NoRoute(func(c *gin.Context) {
		c.HTML(http.StatusNotFound, "notfound", cltemplates.Page{Title: "Page non trouvée"})
	})

	// Images déposées
	r.Static("/uploads", configuration.UploadPath)

	beacon := handlers_beacon.NewBeaconHandler(svc.store, svc.engine, svc.classifier, svc.stats, svc.templates, handlers_beacon.Options{
		PublicURL:     configuration.PublicURL,
		ViewWindow:    configuration.Tracking.ViewWindow,
		StealthWindow: configuration.Tracking.StealthWindow,
	})
	beacon.RegisterRoutes(r)

	api := handlers_api.NewAPIHandler(svc.store, svc.stats, handlers_api.Options{
		PublicURL:     configuration.PublicURL,
		UploadPath:    configuration.UploadPath,
		MaxUploadSize: configuration.MaxUploadSize,
	})
	api.RegisterRoutes(r)
}

func startServer(r *gin.Engine) error {
	if configuration.Listen.Metrics != "" {
		log.Info().Msgf("Metrics disponible sur http://%s/metrics", configuration.Listen.Metrics)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics := &http.Server{
			Addr:              configuration.Listen.Metrics,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	log.Info().Msgf("Website démarré sur http://%s", configuration.Listen.Website)
	log.Info().Msgf("Dépôt d'image: POST %s/api/upload", configuration.PublicURL)
	return r.Run(configuration.Listen.Website)
}

func parseCommandLineArgs() (configFile string, shouldCreateExample bool, versionDisplay bool, err error) {
	var config = flag.String("config", "", "Fichier de configuration YAML")
	var example = flag.Bool("example", false, "Créer un fichier de configuration exemple")
	var version = flag.Bool("version", false, "version du produit")
	flag.Parse()

	if *version {
		return "", false, true, nil
	}

	if *example {
		return "", true, false, nil
	}

	if *config == "" {
		return "", false, false, fmt.Errorf("fichier de configuration requis")
	}

	return *config, false, false, nil
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	initConfiguration()
	outputs, err := cllog.InitLogger(configuration.Logger, configuration.Production)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer outputs.Close()

	clmarkdown.InitMarkdown()
	clconfig.DisplayConfiguration(configuration, BuildID)

	svc, err := initServices(context.Background(), configuration)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svc.Close()
	clmetrics.TrackedAssets.Set(0)

	r := newServer(svc)

	setMiddleware(r)
	setRoutes(r, svc)

	if err := startServer(r); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}
