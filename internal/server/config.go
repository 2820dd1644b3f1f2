package server

import "net/http"

// appConfigResponse reports the resolved runtime configuration. The raw
// secret stays private; only its signature is exposed.
type appConfigResponse struct {
	Signature   string `json:"signature"`
	ConfigPath  string `json:"config_path"`
	WorkingDir  string `json:"working_dir"`
	DataDir     string `json:"data_dir"`
	NetworkHost string `json:"network_host"`
	SiteURL     string `json:"site_url"`
	Port        uint16 `json:"port"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, appConfigResponse{
		Signature:   s.cfg.Signature,
		ConfigPath:  s.cfg.ConfigPath,
		WorkingDir:  s.cfg.WorkingDir,
		DataDir:     s.cfg.DataDir,
		NetworkHost: s.cfg.NetworkHost,
		SiteURL:     s.cfg.SiteURL,
		Port:        s.cfg.Port,
	})
}
