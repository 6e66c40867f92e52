// Command http_get issues a single request through the SDK's HTTP engine
// and streams the response body to stdout, mirroring the upstream SDK's
// standalone http_get demonstrator.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
	"github.com/spf13/cobra"
)

var (
	flagHeaders   bool
	flagBandwidth int
	flagPostData  string
	flagProxy     string
	flagProxyUser string
	flagProxyPass string
)

func main() {
	if err := newHTTPGetCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newHTTPGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "http_get [flags] URL",
		Short:        "Issue one request through the SDK's HTTP engine and stream the response to stdout.",
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE:         runHTTPGet,
	}
	cmd.Flags().BoolVarP(&flagHeaders, "headers", "H", false, "Show received headers.")
	cmd.Flags().IntVarP(&flagBandwidth, "bandwidth_usage_percent", "b", 100, "Set the bandwidth usage percent. Valid range: 1-100")
	cmd.Flags().StringVar(&flagPostData, "post-data", "", "Post data to url.")
	cmd.Flags().StringVar(&flagProxy, "proxy", "", `Proxy through which to connect, "host:port" (used for https URLs, and for http URLs only when --proxyuser is set)`)
	cmd.Flags().StringVar(&flagProxyUser, "proxyuser", "", "Proxy username.")
	cmd.Flags().StringVar(&flagProxyPass, "proxypass", "", "Proxy password.")
	return cmd
}

func runHTTPGet(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Usage()
	}

	if flagBandwidth < 1 || flagBandwidth > 100 {
		fmt.Println("Invalid bandwidth usage percentage.")
		return cmd.Usage()
	}

	httpProxy, httpsProxy, err := parseProxy(flagProxy, flagProxyUser, flagProxyPass)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: Unable to parse proxy:", flagProxy)
		os.Exit(1)
	}

	target, err := mfurl.Parse(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	cfg := mfhttp.NewConfig(
		mfhttp.WithBandwidthLimit(flagBandwidth, nil),
		mfhttp.WithProxy(httpProxy, httpsProxy),
	)

	req := mfhttp.NewRequestConfig()
	if flagPostData != "" {
		_ = req.SetMethod("POST")
		_ = req.SetBody(&mfhttp.Body{Buffer: mfhttp.NewSharedBuffer([]byte(flagPostData))})
	}

	obs := &stdoutObserver{showHeaders: flagHeaders, done: make(chan struct{})}
	eng := mfhttp.NewEngine(cfg, req, target, obs)
	if err := eng.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	<-obs.done

	// A request-level failure is reported to stderr by stdoutObserver.Error
	// but does not itself fail the process: only argument/config errors do.
	return nil
}

// parseProxy splits "host[:port]" into an HTTP and an HTTPS proxy, each
// defaulting to its scheme's standard port (80/443) when no port is
// given; an explicit port is shared by both.
func parseProxy(proxy, user, pass string) (httpProxy, httpsProxy *mfhttp.Proxy, err error) {
	if proxy == "" {
		return nil, nil, nil
	}
	parts := strings.SplitN(proxy, ":", 2)
	host := parts[0]
	httpPort, httpsPort := 80, 443
	if len(parts) == 2 {
		port, perr := strconv.Atoi(parts[1])
		if perr != nil {
			return nil, nil, perr
		}
		httpPort, httpsPort = port, port
	}
	httpProxy = &mfhttp.Proxy{Host: host, Port: httpPort, Username: user, Password: pass}
	httpsProxy = &mfhttp.Proxy{Host: host, Port: httpsPort, Username: user, Password: pass}
	return httpProxy, httpsProxy, nil
}

// stdoutObserver renders one request's lifecycle to stdout/stderr.
type stdoutObserver struct {
	showHeaders bool
	done        chan struct{}
}

func (o *stdoutObserver) RedirectHeaderReceived(h *mfhttp.Headers, newURL *mfurl.URL) {
	fmt.Println("Redirect received:", h.RawHeaders)
	fmt.Println("New URL:", newURL.String())
}

func (o *stdoutObserver) ResponseHeaderReceived(h *mfhttp.Headers) {
	if o.showHeaders {
		fmt.Print(h.RawHeaders)
	}
}

func (o *stdoutObserver) ResponseContentReceived(_ int64, buf *mfhttp.SharedBuffer) {
	os.Stdout.Write(buf.Bytes())
}

func (o *stdoutObserver) Complete() { close(o.done) }

func (o *stdoutObserver) Error(code mferrors.Code, text string) {
	fmt.Fprintf(os.Stderr, "Error(%s): %s\n", code, text)
	close(o.done)
}
