package server

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"subhub/aggregator"
	"subhub/converter"
	"subhub/fetcher"
	"subhub/models"
	"subhub/parser"
	"subhub/profiles"
)

var conversionRelays = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subhub_conversion_relays_total",
	Help: "The total number of conversion round-trips to the external converter",
}, []string{"target", "outcome"})

// Storage is the slice of the store the server needs. Satisfied by
// *store.Store.
type Storage interface {
	GetSubscriptions(ctx context.Context) ([]models.Subscription, error)
	PutSubscriptions(ctx context.Context, subs []models.Subscription) error
	GetProfiles(ctx context.Context) ([]models.Profile, error)
	PutProfiles(ctx context.Context, profiles []models.Profile) error
	GetSettings(ctx context.Context) (*models.Settings, error)
	PutSettings(ctx context.Context, settings models.Settings) error
}

// Maintainer runs one poll cycle. Satisfied by *poller.Poller.
type Maintainer interface {
	Run(ctx context.Context) error
}

type ServerConfig struct {

	// The hostname clients and the converter reach this service on
	Hostname string

	// The store holding subscriptions, profiles and settings
	Store Storage

	// Settings substituted when the store read fails
	Defaults models.Settings

	// The administrative secret; keys the callback token and guards the
	// management API
	AdminSecret string

	// The poller run by the maintenance endpoint
	Poller Maintainer
}

// Returns a fiber.App instance serving the aggregation API
func Server(config *ServerConfig) *fiber.App {

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	fetch := fetcher.New()
	convert := converter.NewClient()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		stop := time.Now()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// The maintenance entry point triggers one poll cycle. It performs no
	// response shaping; external schedulers only need the acknowledgement.
	app.Get("/maintenance", func(c *fiber.Ctx) error {
		if err := config.Poller.Run(c.Context()); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Poll cycle failed")
		}
		return c.Status(200).SendString("OK")
	})

	handleSub := func(c *fiber.Ctx) error {
		token := c.Params("token")
		if token == "" {
			token = c.Query("token", "")
		}
		profileID := c.Params("profile", "")

		settings := loadSettings(c, config)

		subs, err := config.Store.GetSubscriptions(c.Context())
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Could not read subscriptions, serving empty set")
		}
		profs, err := config.Store.GetProfiles(c.Context())
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Could not read profiles, serving empty set")
		}

		resolution, err := profiles.Resolve(token, profileID, settings, subs, profs, time.Now())
		if err != nil {
			switch err {
			case profiles.ErrUnauthorized:
				return c.Status(403).SendString("Invalid token")
			case profiles.ErrNotFound:
				return c.Status(404).SendString("Profile not found")
			default:
				return c.Status(500).SendString("Error resolving request")
			}
		}

		nodes := collectNodes(c, fetch, resolution, settings)
		raw := aggregator.Render(nodes)

		derived := converter.CallbackToken(config.AdminSecret)

		// The converter's own fetch short-circuits here: a matching
		// callback token always gets the raw base64 list, whatever the
		// target says.
		if c.Query("callback_token", "") == derived {
			return sendPlain(c, parser.Encode(raw), resolution.Name)
		}

		target := converter.Negotiate(c.Query("target", ""), c.Get(fiber.HeaderUserAgent))
		if target == converter.TargetBase64 {
			return sendPlain(c, parser.Encode(raw), resolution.Name)
		}

		callback := callbackURL(config.Hostname, token, profileID, derived)

		log.WithFields(log.Fields{
			"target":    target,
			"converter": resolution.Converter,
		}).Info("Relaying to converter")

		converted, err := convert.Convert(c.Context(), converter.Request{
			Host:        resolution.Converter,
			Target:      target,
			CallbackURL: callback,
			Config:      resolution.Config,
		})
		if err != nil {
			conversionRelays.WithLabelValues(target, "error").Inc()
			return c.Status(502).SendString("Conversion failed: " + err.Error())
		}
		conversionRelays.WithLabelValues(target, "ok").Inc()

		return sendPlain(c, converted, resolution.Name)
	}

	app.Get("/sub", handleSub)
	app.Get("/sub/:token", handleSub)
	app.Get("/sub/:token/:profile", handleSub)

	registerManagement(app, config)

	return app
}

// collectNodes gathers the resolved sources into one deduplicated node
// list: manual entries parsed locally, remote feeds fetched concurrently
// and re-ordered by source position before the merge.
func collectNodes(c *fiber.Ctx, fetch *fetcher.Fetcher, resolution *profiles.Resolution, settings models.Settings) []models.Node {
	if resolution.Sentinel != nil {
		return []models.Node{*resolution.Sentinel}
	}

	var manual []models.Node
	for _, sub := range resolution.Manual {
		manual = append(manual, parser.ParseLines([]string{sub.URL}, sub.Name)...)
	}

	results := fetch.FetchAll(c.Context(), resolution.Remote, c.Get(fiber.HeaderUserAgent))

	fetched := make([][]models.Node, len(results))
	for i, result := range results {
		if result.Err != nil {
			// A failed source contributes nothing; the rest of the batch
			// is unaffected.
			continue
		}
		fetched[i] = parser.Parse(result.Body, resolution.Remote[i].Name, parser.Options{
			Exclude:     resolution.Remote[i].Exclude,
			PrependName: settings.PrependName,
		})
	}

	return aggregator.Merge(manual, fetched)
}

func loadSettings(c *fiber.Ctx, config *ServerConfig) models.Settings {
	settings, err := config.Store.GetSettings(c.Context())
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Could not read settings, using defaults")
		return config.Defaults
	}
	if settings == nil {
		return config.Defaults
	}
	return *settings
}

// sendPlain writes the subscription body with the display name carried in
// the content disposition.
func sendPlain(c *fiber.Ctx, body string, name string) error {
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename*=UTF-8''%s", url.PathEscape(name)))
	return c.Status(200).SendString(body)
}

// callbackURL builds the URL the converter calls back on: the same
// resource, forced to raw base64, authorized by the derived token.
func callbackURL(hostname, token, profileID, callbackToken string) string {
	u := "https://" + hostname + "/sub/" + url.PathEscape(token)
	if profileID != "" {
		u += "/" + url.PathEscape(profileID)
	}
	params := url.Values{}
	params.Set("target", converter.TargetBase64)
	params.Set("callback_token", callbackToken)
	return u + "?" + params.Encode()
}
