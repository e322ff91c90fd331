package flags

var (
	Debug      bool
	Dev        bool
	ConfigPath string

	Listen     string
	Port       uint16
	AutoCreate bool
	GopNum     int

	PlayURL    string
	PublishURL string
	FilePath   string
	Loop       bool
)
