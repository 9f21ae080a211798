package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xraylab/eigerhttp/detector"
	"github.com/xraylab/eigerhttp/eiger"
	"github.com/xraylab/eigerhttp/generichttp"
	"github.com/xraylab/eigerhttp/imgrec"
	"github.com/xraylab/eigerhttp/locker"
	"github.com/xraylab/eigerhttp/util"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "eigerhttp.yml"
	k              = koanf.New(".")
)

type hook struct {
	// Command is a program run after each exposure with the retrieved
	// file paths appended to Args.  Empty disables the hook.
	Command string `yaml:"Command"`

	Args []string `yaml:"Args"`
}

// timeouts are in seconds; Poll is the probe interval of the wait loops
type timeouts struct {
	Poll           float64 `yaml:"Poll"`
	Restart        float64 `yaml:"Restart"`
	Initialize     float64 `yaml:"Initialize"`
	Configure      float64 `yaml:"Configure"`
	ExposureMargin float64 `yaml:"ExposureMargin"`
	Retrieval      float64 `yaml:"Retrieval"`
}

type config struct {
	Addr     string   `yaml:"Addr"`
	Root     string   `yaml:"Root"`
	Host     string   `yaml:"Host"`
	Port     int      `yaml:"Port"`
	DumpPath string   `yaml:"DumpPath"`
	Mock     bool     `yaml:"Mock"`
	Hook     hook     `yaml:"Hook"`
	Timeouts timeouts `yaml:"Timeouts"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:     ":8000",
		Root:     "/eiger",
		Host:     "172.17.1.2",
		Port:     80,
		DumpPath: "/tmp",
		Timeouts: timeouts{
			Poll:           0.25,
			Restart:        120,
			Initialize:     120,
			Configure:      30,
			ExposureMargin: 30,
			Retrieval:      30}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `eigerhttp exposes control of Dectris Eiger detectors over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	eigerhttp <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `eigerhttp is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  The command
mkconf generates the configuration file with the default values.

Host and Port locate the detector control unit; both are validated before
the server contacts any hardware.  DumpPath is the local folder retrieved
images are written into; it is created if missing and must be writable.

Mock replaces the hardware with an in-memory simulator, which is useful
for exercising control software with no beamline access.

The operation entry points (restart, initialize, configure, trigger) are
edge-triggered: POST {"bool": true} to invoke, then poll the matching
-rbv route until it reads false.  The state machine permits one operation
at a time; a write that loses the race returns 423.

Timeouts are in seconds.  Poll is the probe interval of every
wait-for-hardware loop; the others are per-operation maximum waits, and
the trigger deadline is the count time plus ExposureMargin.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("eigerhttp version %v\n", Version)
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// probe waits up to 30 seconds for the detector to answer a status read,
// with a spinner so the operator knows the server is not hung
func probe(c *eiger.Client) {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency: 100 * time.Millisecond,
		CharSet:   yacspin.CharSets[59],
		Suffix:    " contacting detector at " + c.Addr,
	})
	if err == nil {
		spinner.Start()
		defer spinner.Stop()
	}
	deadline := time.Now().Add(30 * time.Second)
	for {
		state, err := c.State()
		if err == nil {
			log.Printf("detector responded, hardware state %q", state)
			return
		}
		if time.Now().After(deadline) {
			log.Printf("detector did not respond: %v; continuing, issue a restart once it is powered", err)
			return
		}
		time.Sleep(time.Second)
	}
}

func run() {
	cfg := config{}
	err := k.Unmarshal("", &cfg)
	if err != nil {
		log.Fatal(err)
	}
	if !cfg.Mock {
		if err := util.ValidateIPAddress(cfg.Host); err != nil {
			log.Fatal(err)
		}
		if err := util.ValidatePort(cfg.Port); err != nil {
			log.Fatal(err)
		}
	}
	if err := util.EnsureWritableDirectory(cfg.DumpPath); err != nil {
		log.Fatal(err)
	}

	var client detector.Client
	if cfg.Mock {
		log.Println("running against a simulated detector")
		client = eiger.NewSim()
	} else {
		c := eiger.NewClient(cfg.Host, cfg.Port)
		probe(c)
		client = c
	}

	rec := &imgrec.Recorder{Root: cfg.DumpPath}
	ctl := detector.New(client, rec)
	ctl.Timeouts = detector.Timeouts{
		Poll:           secs(cfg.Timeouts.Poll),
		Restart:        secs(cfg.Timeouts.Restart),
		Initialize:     secs(cfg.Timeouts.Initialize),
		Configure:      secs(cfg.Timeouts.Configure),
		ExposureMargin: secs(cfg.Timeouts.ExposureMargin),
		Retrieval:      secs(cfg.Timeouts.Retrieval),
	}
	if cfg.Hook.Command != "" {
		ctl.Hook = detector.ScriptHook{Command: cfg.Hook.Command, Args: cfg.Hook.Args}
	}

	w := detector.NewHTTPWrapper(ctl)
	lock := ctl.Lock()
	locker.Inject(w, lock)

	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	w.RT().Bind(mux)
	root.Mount(hndlrS, mux)
	log.Println("now listening for requests at ", cfg.Addr+hndlrS)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
