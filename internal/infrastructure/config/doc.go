// Package config loads obsrelay's YAML configuration.
//
// Values come from built-in defaults, then the file, then OBSRELAY_*
// environment variables. Keep secrets (OBS password, JWT secret, broker
// and InfluxDB credentials) in the environment, or restrict the file to
// mode 0600.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	client := obsws.New(obsws.Config{Host: cfg.OBS.Host, Port: cfg.OBS.Port})
package config
