package hack

import _ "embed"

// SystemdUnitTemplate is the systemd service installed by "voltgauge install".
// "/path/to/voltgauge" is replaced with the installed binary.
//
//go:embed voltgauge.service
var SystemdUnitTemplate string
