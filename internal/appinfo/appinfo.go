package appinfo

// Name is the user-facing application name.
const Name = "egg"

// Version is overridden at build time via:
//
//	-ldflags "-X egg/internal/appinfo.Version=0.2.0"
var Version = "0.1.0"

func Display() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	return Name + " v" + v
}
