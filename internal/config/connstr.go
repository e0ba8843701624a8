package config

import (
	"fmt"
	"strings"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

// MakeConnStr builds the keyword/value connection string of the tenant
// directory database, resolving credentials through their source references.
func MakeConnStr(conf Database) (string, error) {
	host, err := commoncfg.LoadValueFromSourceRef(conf.Host)
	if err != nil {
		return "", fmt.Errorf("loading db host: %w", err)
	}

	user, err := commoncfg.LoadValueFromSourceRef(conf.User)
	if err != nil {
		return "", fmt.Errorf("loading db user: %w", err)
	}

	password, err := commoncfg.LoadValueFromSourceRef(conf.Password)
	if err != nil {
		return "", fmt.Errorf("loading db password: %w", err)
	}

	pairs := []string{
		"host=" + connValue(string(host)),
		"user=" + connValue(string(user)),
		"password=" + connValue(string(password)),
		"dbname=" + connValue(conf.Name),
		"port=" + connValue(conf.Port),
	}
	if conf.SSLMode != "" {
		pairs = append(pairs, "sslmode="+connValue(conf.SSLMode))
	}

	return strings.Join(pairs, " "), nil
}

// connValue quotes v when libpq keyword/value syntax requires it.
func connValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}

	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)

	return "'" + v + "'"
}
