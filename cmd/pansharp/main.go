package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/exporter"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/interface/catalog/sentinelhub"
	"github.com/geolens/pansharp/interface/provider"
	"github.com/geolens/pansharp/loader"
	"github.com/geolens/pansharp/processor"
	"github.com/geolens/pansharp/service/log"
	"go.uber.org/zap"
)

type config struct {
	JobFile string
	WorkDir string

	CatalogEndpoint string
	TokenURL        string

	ProcessEndpoint     string
	DeliveryURLTemplate string
	DeliveryToken       string
	LocalProviderPath   string

	Concurrency  int
	Retries      int
	FetchTimeout time.Duration

	Overwrite bool
	Cog       bool

	ListCollections bool
	Provider        string
	Constellation   string
}

func newAppConfig() (*config, error) {
	config := config{}
	// Global config
	flag.StringVar(&config.JobFile, "job", "", "job payload file (json)")
	flag.StringVar(&config.WorkDir, "workdir", "", "working directory to store intermediate downloads (default: system temp dir)")

	// Catalog
	flag.StringVar(&config.CatalogEndpoint, "catalog-endpoint", sentinelhub.DefaultEndpoint, "catalog api endpoint")
	flag.StringVar(&config.TokenURL, "token-url", "", "oauth2 token endpoint (default: the catalog service one)")

	// Providers
	flag.StringVar(&config.ProcessEndpoint, "process-endpoint", "", "process api endpoint (optional). To configure the process api as a potential band provider.")
	flag.StringVar(&config.DeliveryURLTemplate, "delivery-url", "", `delivery url template (optional). To configure static delivery as a potential band provider.
	The template can contain several {IDENTIFIER} that will be replaced according to the acquisition.
	IDENTIFIER must be one of COLLECTION, SCENE, BAND, DATE(YEAR/MONTH/DAY), TIME`)
	flag.StringVar(&config.DeliveryToken, "delivery-token", "", "delivery bearer token (optional)")
	flag.StringVar(&config.LocalProviderPath, "local-path", "", "local path where band files are stored (optional). To configure a local path as a potential band provider.")

	// Load tuning
	flag.IntVar(&config.Concurrency, "concurrency", 4, "number of scenes fetched/exported in parallel")
	flag.IntVar(&config.Retries, "retries", 3, "retries per band fetch on temporary errors")
	flag.DurationVar(&config.FetchTimeout, "fetch-timeout", 0, "timeout of one band fetch attempt (0: 1m)")

	// Output
	flag.BoolVar(&config.Overwrite, "overwrite", false, "overwrite existing output files")
	flag.BoolVar(&config.Cog, "cog", true, "rewrite output files as cloud-optimized geotiffs")

	// Catalog inspection
	flag.BoolVar(&config.ListCollections, "list-collections", false, "list the collections available over the job bbox and exit")
	flag.StringVar(&config.Provider, "provider", "", "restrict -list-collections to one provider (optional)")
	flag.StringVar(&config.Constellation, "constellation", "", "restrict -list-collections to one constellation (optional)")

	flag.Parse()

	if config.JobFile == "" {
		return nil, fmt.Errorf("missing job config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	job, err := common.LoadJob(config.JobFile)
	if err != nil {
		return err
	}
	query, err := job.GeoQuery()
	if err != nil {
		return err
	}
	ctx = log.With(ctx, "region", job.Region)

	// Catalog client
	creds, err := sentinelhub.CredentialsFromEnv()
	if err != nil {
		return err
	}
	client, err := sentinelhub.NewClient(ctx, config.CatalogEndpoint, config.TokenURL, creds)
	if err != nil {
		return err
	}

	if config.ListCollections {
		filter := catalog.CollectionFilter{Provider: config.Provider, BBox: query.BBox}
		if config.Constellation != "" {
			filter.Constellations = []string{config.Constellation}
		}
		collections, err := client.SearchCollections(ctx, filter)
		if err != nil {
			return err
		}
		for _, collection := range collections {
			fmt.Printf("%s\t%s\t%s\n", collection.ID, collection.Provider, collection.Name)
		}
		return nil
	}

	// Load band providers
	var bandProviders []provider.BandProvider
	var providerNames []string
	if config.LocalProviderPath != "" {
		providerNames = append(providerNames, "local ("+config.LocalProviderPath+")")
		bandProviders = append(bandProviders, provider.NewLocalProvider(config.LocalProviderPath))
	}
	if config.DeliveryURLTemplate != "" {
		providerNames = append(providerNames, "delivery")
		bandProviders = append(bandProviders, provider.NewDeliveryProvider(config.DeliveryURLTemplate, config.DeliveryToken, config.WorkDir))
	}
	if config.ProcessEndpoint != "" {
		providerNames = append(providerNames, "process ("+config.ProcessEndpoint+")")
		bandProviders = append(bandProviders, provider.NewProcessProvider(config.ProcessEndpoint, client.HTTPClient()))
	}
	if len(bandProviders) == 0 {
		return fmt.Errorf("missing configuration for a band provider (local-path, delivery-url or process-endpoint)")
	}

	product, err := client.GetProduct(ctx, job.CollectionID)
	if err != nil {
		return err
	}

	l := loader.Loader{
		Catalog:      client,
		Providers:    bandProviders,
		Concurrency:  config.Concurrency,
		Retries:      config.Retries,
		FetchTimeout: config.FetchTimeout,
	}
	plan, err := l.Plan(ctx, product, query)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("load %d acquisitions of %s with providers: %s",
		len(plan.Acquisitions), job.CollectionID, strings.Join(providerNames, ", "))

	stack, failures, err := plan.Materialize(ctx)
	if err != nil {
		return err
	}
	for _, failure := range failures {
		log.Logger(ctx).Sugar().Warnf("dropped %v", failure)
	}

	bandOrder := make([]string, 0, len(plan.Bands))
	for _, b := range plan.Bands {
		bandOrder = append(bandOrder, b.Name)
	}
	dtype := common.DTypeFloat32

	if job.Sharpening != nil {
		s := job.Sharpening
		stack, err = processor.Sharpen(stack, processor.SharpenConfig{
			Red: s.Red, Green: s.Green, Blue: s.Blue, Pan: s.Pan,
			Weights: processor.Weights{R: s.WeightR, G: s.WeightG, B: s.WeightB},
			Scale:   s.Scale,
		})
		if err != nil {
			return err
		}
		bandOrder = []string{s.Red, s.Green, s.Blue}
	}

	if job.Rescaling != nil {
		r := job.Rescaling
		stack, err = processor.Rescale(stack, r.DomainMax, float64(r.OutMax))
		if err != nil {
			return err
		}
		if r.OutMax <= 255 {
			dtype = common.DTypeUInt8
		} else {
			dtype = common.DTypeUInt16
		}
	}

	paths, err := exporter.ExportStack(ctx, stack, exporter.Options{
		Region:      job.Region,
		Directory:   job.OutputDir,
		BandOrder:   bandOrder,
		DType:       dtype,
		Overwrite:   config.Overwrite,
		Cog:         config.Cog,
		Concurrency: config.Concurrency,
	})
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("exported %d files to %s", len(paths), job.OutputDir)
	return nil
}
