// Package trigger provides the remote-trigger capability: the opaque
// automation surface that initiates the remote conversion and download
// action. The workflow depends only on the Trigger interface; the
// concrete implementation here drives a headless Chrome session.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/pkg/logger"
)

var log = logger.Get("Trigger")

type (
	// Trigger is the capability the workflow holds: open a session,
	// perform the conversion for a source URL, release the session.
	Trigger interface {
		Open(ctx context.Context) error
		PerformRemoteConversion(ctx context.Context, inputURL string) error
		Close() error
	}

	Config struct {
		ConverterURL             string `yaml:"converter_url" env:"CADENZA_CONVERTER_URL" env-default:"https://mp3cow.com/"`
		URLInputSelector         string `yaml:"url_input_selector" env-default:"#url"`
		ConvertButtonSelector    string `yaml:"convert_button_selector" env-default:"#bco"`
		DownloadButtonText       string `yaml:"download_button_text" env-default:"Download MP3"`
		SettleDelaySeconds       int    `yaml:"settle_delay_seconds" env:"CADENZA_SETTLE_DELAY" env-default:"5"`
		NavigationTimeoutSeconds int    `yaml:"navigation_timeout_seconds" env-default:"30"`
		ElementTimeoutSeconds    int    `yaml:"element_timeout_seconds" env-default:"15"`
		Headless                 bool   `yaml:"headless" env:"CADENZA_HEADLESS" env-default:"true"`
	}

	// ConverterTrigger automates the converter website: fill the URL
	// field, click convert, wait the fixed settle delay, then click
	// the download control.
	ConverterTrigger struct {
		config Config

		browserCtx    context.Context
		allocCancel   context.CancelFunc
		browserCancel context.CancelFunc
		open          bool
	}
)

func New(config Config) *ConverterTrigger {
	return &ConverterTrigger{config: config}
}

// Open launches the browser session. Idempotent while a session is
// already open. A failure to launch means the automation environment
// (Chrome) is unavailable on this host.
func (trigger *ConverterTrigger) Open(ctx context.Context) error {
	if trigger.open {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", trigger.config.Headless),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := trigger.run(ctx, browserCtx, trigger.navigationTimeout()); err != nil {
		browserCancel()
		allocCancel()
		return fault.Wrap(fault.RemoteAutomationUnavailable, fault.StageTriggering,
			fmt.Errorf("unable to launch browser session: %w", err))
	}

	trigger.browserCtx = browserCtx
	trigger.allocCancel = allocCancel
	trigger.browserCancel = browserCancel
	trigger.open = true

	log.Emit(logger.NEW, "Browser session opened (headless=%v)\n", trigger.config.Headless)
	return nil
}

// PerformRemoteConversion navigates to the converter, submits the
// source URL, waits the configured settle delay for the conversion to
// finish, then clicks the download control. Each step failure is
// classified: navigation failures as unreachable, missing page
// elements as element-missing.
func (trigger *ConverterTrigger) PerformRemoteConversion(ctx context.Context, inputURL string) error {
	if !trigger.open {
		return fault.New(fault.RemoteAutomationUnavailable, fault.StageTriggering,
			"no browser session; call Open first")
	}

	if err := trigger.run(ctx, trigger.browserCtx, trigger.navigationTimeout(),
		chromedp.Navigate(trigger.config.ConverterURL),
	); err != nil {
		return fault.Wrap(fault.RemoteUnreachable, fault.StageTriggering,
			fmt.Errorf("unable to reach converter at %s: %w", trigger.config.ConverterURL, err))
	}

	if err := trigger.run(ctx, trigger.browserCtx, trigger.elementTimeout(),
		chromedp.WaitVisible(trigger.config.URLInputSelector, chromedp.ByQuery),
		chromedp.SendKeys(trigger.config.URLInputSelector, inputURL, chromedp.ByQuery),
	); err != nil {
		return fault.Wrap(fault.RemoteElementMissing, fault.StageTriggering,
			fmt.Errorf("URL input field %q not found: %w", trigger.config.URLInputSelector, err))
	}

	if err := trigger.run(ctx, trigger.browserCtx, trigger.elementTimeout(),
		chromedp.WaitVisible(trigger.config.ConvertButtonSelector, chromedp.ByQuery),
		chromedp.Click(trigger.config.ConvertButtonSelector, chromedp.ByQuery),
	); err != nil {
		return fault.Wrap(fault.RemoteElementMissing, fault.StageTriggering,
			fmt.Errorf("convert button %q not found: %w", trigger.config.ConvertButtonSelector, err))
	}

	// Fixed settle delay while the remote conversion runs.
	settle := time.Duration(trigger.config.SettleDelaySeconds) * time.Second
	log.Emit(logger.INFO, "Conversion submitted; settling for %s\n", settle)
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := trigger.clickDownload(ctx); err != nil {
		return err
	}

	log.Emit(logger.SUCCESS, "Remote conversion triggered for %s\n", inputURL)
	return nil
}

// Close releases the browser session. Safe to call multiple times and
// before Open.
func (trigger *ConverterTrigger) Close() error {
	if !trigger.open {
		return nil
	}

	trigger.browserCancel()
	trigger.allocCancel()
	trigger.open = false
	trigger.browserCtx = nil

	log.Emit(logger.STOP, "Browser session closed\n")
	return nil
}

// clickDownload tries the configured text match first, then a set of
// progressively looser selectors, and fails with element-missing only
// once every locator has been exhausted.
func (trigger *ConverterTrigger) clickDownload(ctx context.Context) error {
	locators := []string{
		fmt.Sprintf(`//button[contains(text(), %q)]`, trigger.config.DownloadButtonText),
		fmt.Sprintf(`//a[contains(text(), %q)]`, trigger.config.DownloadButtonText),
		`//*[contains(@class, "download") or contains(@id, "download")]`,
	}

	var lastErr error
	for _, locator := range locators {
		err := trigger.run(ctx, trigger.browserCtx, trigger.elementTimeout(),
			chromedp.WaitVisible(locator, chromedp.BySearch),
			chromedp.Click(locator, chromedp.BySearch),
		)
		if err == nil {
			return nil
		}

		lastErr = err
	}

	return fault.Wrap(fault.RemoteElementMissing, fault.StageTriggering,
		fmt.Errorf("download control %q not found with any locator: %w", trigger.config.DownloadButtonText, lastErr))
}

// run executes chromedp actions under a step timeout derived from the
// browser context, while also honouring cancellation of the caller's
// context.
func (trigger *ConverterTrigger) run(ctx context.Context, browserCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(stepCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, context.Canceled) {
			return ctxErr
		}
		return err
	}

	return nil
}

func (trigger *ConverterTrigger) navigationTimeout() time.Duration {
	return time.Duration(trigger.config.NavigationTimeoutSeconds) * time.Second
}

func (trigger *ConverterTrigger) elementTimeout() time.Duration {
	return time.Duration(trigger.config.ElementTimeoutSeconds) * time.Second
}
