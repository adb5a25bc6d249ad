package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/server"
)

const usage = `usage: shadowctl [flags] <command> [args]

commands:
  status                         engine status
  aps [sort]                     live access points (signal|ssid|clients|last_seen)
  clients [bssid]                live clients
  mode <passive|capture|drop> [bssid]
  target <bssid> [ssid]
  capture start|stop
  deauth <bssid> [client]
  reset                          leave the error state

flags:
`

type client struct {
	base   string
	token  string
	http   *http.Client
	nc     *nats.Conn
	prefix string
	device string
}

func main() {
	var (
		addr    = flag.String("addr", "http://127.0.0.1:8080", "engine API address")
		token   = flag.String("token", os.Getenv("SHADOW_API_TOKEN"), "operator token")
		natsURL = flag.String("nats", "", "send commands over NATS instead of HTTP")
		prefix  = flag.String("prefix", "shadow", "NATS subject prefix")
		device  = flag.String("device", "shadow", "device name for NATS commands")
		timeout = flag.Duration("timeout", 10*time.Second, "request timeout")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{
		base:   strings.TrimRight(*addr, "/"),
		http:   &http.Client{Timeout: *timeout},
		prefix: *prefix,
		device: *device,
	}

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("shadowctl"), nats.Timeout(*timeout))
		if err != nil {
			fatal(err)
		}
		defer nc.Close()
		c.nc = nc
	} else if *token != "" {
		if err := c.login(*token); err != nil {
			fatal(err)
		}
	}

	out, err := c.run(args, *timeout)
	if err != nil {
		fatal(err)
	}
	os.Stdout.Write(out)
	fmt.Println()
}

func (c *client) run(args []string, timeout time.Duration) ([]byte, error) {
	cmd, rest := args[0], args[1:]
	arg := func(i int) string {
		if i < len(rest) {
			return rest[i]
		}
		return ""
	}

	switch cmd {
	case "status":
		return c.command(server.OpStatus, "/status", nil, timeout)
	case "aps":
		q := url.Values{}
		if s := arg(0); s != "" {
			q.Set("sort", s)
		}
		return c.get("/aps?" + q.Encode())
	case "clients":
		q := url.Values{}
		if b := arg(0); b != "" {
			q.Set("bssid", b)
		}
		return c.get("/clients?" + q.Encode())
	case "mode":
		if arg(0) == "" {
			return nil, fmt.Errorf("mode: missing mode")
		}
		return c.command(server.OpMode, "/mode", models.ModeRequest{Mode: arg(0), BSSID: arg(1)}, timeout)
	case "target":
		if arg(0) == "" {
			return nil, fmt.Errorf("target: missing bssid")
		}
		return c.command(server.OpTarget, "/target", models.TargetRequest{BSSID: arg(0), SSID: arg(1)}, timeout)
	case "capture":
		switch arg(0) {
		case "start":
			return c.command(server.OpCaptureStart, "/capture/start", nil, timeout)
		case "stop":
			return c.command(server.OpCaptureStop, "/capture/stop", nil, timeout)
		}
		return nil, fmt.Errorf("capture: want start or stop")
	case "deauth":
		if arg(0) == "" {
			return nil, fmt.Errorf("deauth: missing bssid")
		}
		return c.command(server.OpDeauth, "/deauth", models.DeauthCommand{BSSID: arg(0), Client: arg(1)}, timeout)
	case "reset":
		return c.command(server.OpReset, "/reset", nil, timeout)
	}
	return nil, fmt.Errorf("unknown command %q", cmd)
}

// command goes over NATS when connected, otherwise over HTTP
func (c *client) command(op, path string, body interface{}, timeout time.Duration) ([]byte, error) {
	if c.nc == nil {
		if op == server.OpStatus {
			return c.get(path)
		}
		return c.post(path, body)
	}

	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	msg, err := c.nc.Request(server.CommandSubject(c.prefix, c.device, op), data, timeout)
	if err != nil {
		return nil, err
	}

	var reply models.CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("%s: %s", reply.Code, reply.Error)
	}
	return json.MarshalIndent(reply.Snapshot, "", "  ")
}

func (c *client) login(token string) error {
	out, err := c.post("/auth/login", map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var pair struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(out, &pair); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = pair.AccessToken
	return nil
}

func (c *client) get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *client) post(path string, body interface{}) ([]byte, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	return c.do(http.MethodPost, path, r)
}

func (c *client) do(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, c.base+"/api/v1"+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		return pretty.Bytes(), nil
	}
	return data, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "shadowctl:", err)
	os.Exit(1)
}
