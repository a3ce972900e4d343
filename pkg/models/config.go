// Package models defines the data shapes shared across the Gruxi edge server:
// the configuration tree (Binding, Site, processors), the admin API's own
// records, and the structured logging entry used by internal/logging.
package models

import "time"

// Binding identifies one TCP accept endpoint.
type Binding struct {
	ID      uint32 `json:"id"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	IsAdmin bool   `json:"is_admin"`
	IsTLS   bool   `json:"is_tls"`
}

// NamedRewrite is a single entry of a site's rewrite_functions list.
type NamedRewrite struct {
	Name string `json:"name"`
}

// HeaderPair is an ordered (name, value) entry for Site.ExtraHeaders.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Site is a logical host: hostnames it answers to, certificate material,
// its ordered handler chain, and response policy.
type Site struct {
	ID               uint32         `json:"id"`
	Hostnames        []string       `json:"hostnames"`
	IsEnabled        bool           `json:"is_enabled"`
	IsDefault        bool           `json:"is_default"`
	TLSCertPath      string         `json:"tls_cert_path"`
	TLSCertContent   string         `json:"tls_cert_content"`
	TLSKeyPath       string         `json:"tls_key_path"`
	TLSKeyContent    string         `json:"tls_key_content"`
	RewriteFunctions []NamedRewrite `json:"rewrite_functions"`
	RequestHandlers  []string       `json:"request_handlers"` // ordered RequestHandler ids
	ExtraHeaders     []HeaderPair   `json:"extra_headers"`
	AccessLogEnabled *bool          `json:"access_log_enabled,omitempty"`
	AccessLogFile    string         `json:"access_log_file"`
}

// BindingSite is the many-to-many link between a Binding and a Site.
type BindingSite struct {
	BindingID uint32 `json:"binding_id"`
	SiteID    uint32 `json:"site_id"`
}

// ProcessorType is the closed set of processor kinds a RequestHandler may name.
type ProcessorType string

const (
	ProcessorStatic ProcessorType = "static"
	ProcessorPHP    ProcessorType = "php"
	ProcessorProxy  ProcessorType = "proxy"
)

// RequestHandler is one entry in a site's ordered handler chain.
type RequestHandler struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	IsEnabled     bool          `json:"is_enabled"`
	ProcessorType ProcessorType `json:"processor_type"`
	ProcessorID   string        `json:"processor_id"`
	URLMatch      []string      `json:"url_match"`
}

// StaticFileProcessor serves files from a web root.
type StaticFileProcessor struct {
	ID                   string   `json:"id"`
	WebRoot              string   `json:"web_root"`
	WebRootIndexFileList []string `json:"web_root_index_file_list"`
}

// PhpServedBy is the closed set of PHP backends a PhpProcessor may use.
type PhpServedBy string

const (
	PhpServedByFPM    PhpServedBy = "php-fpm"
	PhpServedByWinCGI PhpServedBy = "win-php-cgi"
)

// PhpProcessor routes a request to either a FastCGI backend or a managed
// CGI handler, depending on ServedByType.
type PhpProcessor struct {
	ID                string      `json:"id"`
	ServedByType      PhpServedBy `json:"served_by_type"`
	PhpCgiHandlerID   string      `json:"php_cgi_handler_id"`
	FastCGIIPAndPort  string      `json:"fastcgi_ip_and_port"`
	RequestTimeoutS   int         `json:"request_timeout_s"`
	LocalWebRoot      string      `json:"local_web_root"`
	FastCGIWebRoot    string      `json:"fastcgi_web_root"`
}

// URLRewrite is a literal substring rewrite applied to path+query.
type URLRewrite struct {
	From            string `json:"from"`
	To              string `json:"to"`
	CaseInsensitive bool   `json:"case_insensitive"`
}

// ProxyProcessor load balances across upstream HTTP servers.
type ProxyProcessor struct {
	ID                     string       `json:"id"`
	ProxyType              string       `json:"proxy_type"` // "http"
	UpstreamServers        []string     `json:"upstream_servers"`
	LoadBalancingStrategy  string       `json:"load_balancing_strategy"` // "round_robin"
	TimeoutS               int          `json:"timeout_s"`
	HealthCheckPath        string       `json:"health_check_path"`
	HealthCheckIntervalS   int          `json:"health_check_interval_s"`
	HealthCheckTimeoutS    int          `json:"health_check_timeout_s"`
	URLRewrites            []URLRewrite `json:"url_rewrites"`
	PreserveHostHeader     bool         `json:"preserve_host_header"`
	ForcedHostHeader       string       `json:"forced_host_header"`
	VerifyTLSCertificates  bool         `json:"verify_tls_certificates"`
}

// PhpCgiHandler describes a managed external CGI process pool.
type PhpCgiHandler struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Executable        string `json:"executable"`
	RequestTimeoutS   int    `json:"request_timeout_s"`
	ConcurrentThreads uint32 `json:"concurrent_threads"` // 0 means derive from CPU count
}

// FileCacheSettings configures the in-memory static file cache.
type FileCacheSettings struct {
	Enabled                  bool  `json:"enabled"`
	MaxItems                 int   `json:"max_items"`
	MaxSizePerFileBytes      int64 `json:"max_size_per_file_bytes"`
	TimeBetweenChecksS       int   `json:"time_between_checks_s"`
	CleanupIntervalS         int   `json:"cleanup_interval_s"`
	MaxItemLifetimeS         int   `json:"max_item_lifetime_s"`
	ForcedEvictionThresholdPct int `json:"forced_eviction_threshold_pct"`
}

// GzipSettings configures opportunistic response compression.
type GzipSettings struct {
	Enabled                  bool     `json:"enabled"`
	CompressibleContentTypes []string `json:"compressible_content_types"`
}

// CoreSettings bundles cache and compression policy.
type CoreSettings struct {
	FileCache FileCacheSettings `json:"file_cache"`
	Gzip      GzipSettings      `json:"gzip"`
}

// ConfigSnapshot is the immutable, atomically-swapped configuration bundle.
type ConfigSnapshot struct {
	Revision              int64                  `json:"revision"`
	Bindings              []Binding              `json:"bindings"`
	Sites                 []Site                 `json:"sites"`
	BindingSites          []BindingSite          `json:"binding_sites"`
	RequestHandlers       []RequestHandler       `json:"request_handlers"`
	StaticFileProcessors  []StaticFileProcessor  `json:"static_file_processors"`
	PhpProcessors         []PhpProcessor         `json:"php_processors"`
	ProxyProcessors       []ProxyProcessor       `json:"proxy_processors"`
	PhpCgiHandlers        []PhpCgiHandler        `json:"php_cgi_handlers"`
	Core                  CoreSettings           `json:"core"`
	CreatedAt             time.Time              `json:"created_at"`
}

// ValidationFailure is one structured entry in a rejected config save.
type ValidationFailure struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AdminUser is an administrator account for the admin API.
type AdminUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdminSession is an issued Bearer session token.
type AdminSession struct {
	Token       string    `json:"-"`
	AdminUserID string    `json:"admin_user_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ConfigRevision is how the config store persists a ConfigSnapshot.
type ConfigRevision struct {
	ID           int64     `json:"id"`
	SnapshotJSON string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	IsActive     bool      `json:"is_active"`
}

// OperationMode biases log verbosity and default access-log enablement.
type OperationMode string

const (
	ModeDev        OperationMode = "DEV"
	ModeDebug      OperationMode = "DEBUG"
	ModeProduction OperationMode = "PRODUCTION"
	ModeSpeedtest  OperationMode = "SPEEDTEST"
)

// EffectiveAccessLogEnabled resolves site's access-log enablement, honoring
// an explicit setting and otherwise falling back to mode's default: every
// mode logs access by default except SPEEDTEST, which suppresses
// non-essential logging (spec.md §6).
func EffectiveAccessLogEnabled(site Site, mode OperationMode) bool {
	if site.AccessLogEnabled != nil {
		return *site.AccessLogEnabled
	}
	return mode != ModeSpeedtest
}
