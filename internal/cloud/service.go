package cloud

import (
	"log/slog"
	"net/http"
	"time"
)

// Default service hosts.
const (
	DefaultDatabaseHostSuffix = "firebaseio.com"
	DefaultStoreURL           = "https://firestore.googleapis.com"
	DefaultStorageURL         = "https://www.googleapis.com"
	DefaultIdentityURL        = "https://www.googleapis.com"
	DefaultTokenURL           = "https://securetoken.googleapis.com"
)

// Endpoints names the hosts each surface talks to. Empty fields take the
// defaults. DatabaseURL, when set, replaces the per-project
// https://<project>.firebaseio.com host.
type Endpoints struct {
	DatabaseURL string
	StoreURL    string
	StorageURL  string
	IdentityURL string
	TokenURL    string
}

// Options configures clients. The zero value is usable.
type Options struct {
	// HTTPClient, when set, is used by every session instead of a dedicated
	// per-session transport. Tests inject httptest clients here.
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
	Endpoints  Endpoints
	// Bucket overrides the default <project>.appspot.com blob bucket.
	Bucket string
	// Limiter throttles blob transfers. Nil means unlimited.
	Limiter *BandwidthLimiter
	// ConnectTimeout bounds dialing on session-owned transports. Zero means
	// no limit beyond the operating system's.
	ConnectTimeout time.Duration
	// ForceHTTP11 disables HTTP/2 on session-owned transports.
	ForceHTTP11 bool
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}

	if o.Endpoints.StoreURL == "" {
		o.Endpoints.StoreURL = DefaultStoreURL
	}

	if o.Endpoints.StorageURL == "" {
		o.Endpoints.StorageURL = DefaultStorageURL
	}

	if o.Endpoints.IdentityURL == "" {
		o.Endpoints.IdentityURL = DefaultIdentityURL
	}

	if o.Endpoints.TokenURL == "" {
		o.Endpoints.TokenURL = DefaultTokenURL
	}

	return o
}

// databaseURL returns the tree-store host for a project.
func (e Endpoints) databaseURL(project string) string {
	if e.DatabaseURL != "" {
		return e.DatabaseURL
	}

	return "https://" + project + "." + DefaultDatabaseHostSuffix
}

// Service bundles one Identity with the three resource clients that read
// its credentials. Build it once and pass it to whatever needs it.
type Service struct {
	Identity *Identity
	Database *Database
	Store    *Store
	Storage  *Storage
}

// NewService wires an Identity for apiKey and clients bound to project.
func NewService(apiKey, project string, opts Options) *Service {
	id := NewIdentity(apiKey, opts)

	return &Service{
		Identity: id,
		Database: NewDatabase(id, project, opts),
		Store:    NewStore(id, project, opts),
		Storage:  NewStorage(id, project, opts),
	}
}
