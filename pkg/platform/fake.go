package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory Client for tests. Remote resources are plain maps,
// failures and status sequences can be scripted per operation, and every
// mutating call is appended to the mutation log so tests can assert that
// dry-run issued none.
type Fake struct {
	mu sync.Mutex

	// User is returned by CurrentUser.
	User string

	files        map[string]FileEntry
	instances    map[string]*DatabaseInstance
	schemas      map[string]map[string]bool
	schemaGrants map[string][]SchemaGrant
	apps         map[string]*App
	appGrants    map[string][]AppGrant

	// instanceStatuses and appStatuses are scripted status sequences
	// consumed one per Get. When a sequence is exhausted or absent, a
	// non-terminal resource advances to READY on the next Get.
	instanceStatuses map[string][]InstanceStatus
	appStatuses      map[string][]AppStatus

	failures  map[string][]error
	mutations []string
}

// NewFake returns an empty fake platform.
func NewFake() *Fake {
	return &Fake{
		User:             "tester@example.com",
		files:            make(map[string]FileEntry),
		instances:        make(map[string]*DatabaseInstance),
		schemas:          make(map[string]map[string]bool),
		schemaGrants:     make(map[string][]SchemaGrant),
		apps:             make(map[string]*App),
		appGrants:        make(map[string][]AppGrant),
		instanceStatuses: make(map[string][]InstanceStatus),
		appStatuses:      make(map[string][]AppStatus),
		failures:         make(map[string][]error),
	}
}

// FailNext schedules err to be returned by the next call to the named
// operation (e.g. "UploadFile"). Multiple calls queue multiple failures.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// ScriptInstanceStatuses sets the statuses successive Gets of the named
// instance will observe.
func (f *Fake) ScriptInstanceStatuses(name string, statuses ...InstanceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instanceStatuses[name] = statuses
}

// ScriptAppStatuses sets the statuses successive Gets of the named app
// will observe.
func (f *Fake) ScriptAppStatuses(name string, statuses ...AppStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appStatuses[name] = statuses
}

// Mutations returns the ordered log of mutating calls.
func (f *Fake) Mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.mutations))
	copy(out, f.mutations)
	return out
}

// SetFile records a remote file without going through UploadFile.
func (f *Fake) SetFile(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = FileEntry{Path: path, Sha256: hashBytes(content), SizeBytes: int64(len(content))}
}

// SetInstance seeds an existing database instance.
func (f *Fake) SetInstance(inst DatabaseInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := inst
	f.instances[inst.Name] = &copied
}

// SetSchema seeds an existing schema.
func (f *Fake) SetSchema(instance, schema string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schemas[instance] == nil {
		f.schemas[instance] = make(map[string]bool)
	}
	f.schemas[instance][schema] = true
}

// SetSchemaGrants seeds existing grants on a schema, creating the schema
// if needed.
func (f *Fake) SetSchemaGrants(instance, schema string, grants []SchemaGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schemas[instance] == nil {
		f.schemas[instance] = make(map[string]bool)
	}
	f.schemas[instance][schema] = true
	f.schemaGrants[instance+"/"+schema] = append([]SchemaGrant(nil), grants...)
}

// SetApp seeds an existing app resource.
func (f *Fake) SetApp(app App) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := app
	f.apps[app.Spec.Name] = &copied
}

// SetAppGrants seeds existing permission grants on an app.
func (f *Fake) SetAppGrants(name string, grants []AppGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appGrants[name] = append([]AppGrant(nil), grants...)
}

// HasFile reports whether a remote file exists.
func (f *Fake) HasFile(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func (f *Fake) failure(op string) error {
	queue := f.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.failures[op] = queue[1:]
	return err
}

func (f *Fake) record(format string, args ...any) {
	f.mutations = append(f.mutations, fmt.Sprintf(format, args...))
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CurrentUser implements Client.
func (f *Fake) CurrentUser(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CurrentUser"); err != nil {
		return "", err
	}
	return f.User, nil
}

// MkdirAll implements Client.
func (f *Fake) MkdirAll(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("MkdirAll"); err != nil {
		return err
	}
	f.record("MkdirAll %s", path)
	return nil
}

// ListFiles implements Client.
func (f *Fake) ListFiles(ctx context.Context, path string) ([]FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListFiles"); err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(path, "/") + "/"
	var entries []FileEntry
	for p, e := range f.files {
		if strings.HasPrefix(p, prefix) {
			rel := e
			rel.Path = strings.TrimPrefix(p, prefix)
			entries = append(entries, rel)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// UploadFile implements Client.
func (f *Fake) UploadFile(ctx context.Context, path string, r io.Reader, overwrite bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UploadFile"); err != nil {
		return err
	}
	if _, exists := f.files[path]; exists && !overwrite {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	f.files[path] = FileEntry{Path: path, Sha256: hashBytes(data), SizeBytes: int64(len(data))}
	f.record("UploadFile %s", path)
	return nil
}

// DeleteFile implements Client.
func (f *Fake) DeleteFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteFile"); err != nil {
		return err
	}
	if _, ok := f.files[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(f.files, path)
	f.record("DeleteFile %s", path)
	return nil
}

// GetDatabaseInstance implements Client. Each Get advances a scripted
// status sequence when one is set.
func (f *Fake) GetDatabaseInstance(ctx context.Context, name string) (*DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetDatabaseInstance"); err != nil {
		return nil, err
	}
	inst, ok := f.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, name)
	}
	if seq := f.instanceStatuses[name]; len(seq) > 0 {
		inst.Status = seq[0]
		f.instanceStatuses[name] = seq[1:]
	} else if !inst.Status.IsTerminal() {
		inst.Status = InstanceReady
	}
	copied := *inst
	return &copied, nil
}

// CreateDatabaseInstance implements Client.
func (f *Fake) CreateDatabaseInstance(ctx context.Context, spec DatabaseInstanceSpec) (*DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateDatabaseInstance"); err != nil {
		return nil, err
	}
	if _, exists := f.instances[spec.Name]; exists {
		return nil, fmt.Errorf("%w: instance %s", ErrAlreadyExists, spec.Name)
	}
	inst := &DatabaseInstance{
		Name:     spec.Name,
		Capacity: spec.Capacity,
		Status:   InstanceCreating,
		Host:     spec.Name + ".db.fake",
		Port:     5432,
	}
	f.instances[spec.Name] = inst
	f.record("CreateDatabaseInstance %s %s", spec.Name, spec.Capacity)
	copied := *inst
	return &copied, nil
}

// UpdateDatabaseInstance implements Client.
func (f *Fake) UpdateDatabaseInstance(ctx context.Context, name, capacity string) (*DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UpdateDatabaseInstance"); err != nil {
		return nil, err
	}
	inst, ok := f.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, name)
	}
	inst.Capacity = capacity
	inst.Status = InstanceUpdating
	f.record("UpdateDatabaseInstance %s %s", name, capacity)
	copied := *inst
	return &copied, nil
}

// DeleteDatabaseInstance implements Client.
func (f *Fake) DeleteDatabaseInstance(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteDatabaseInstance"); err != nil {
		return err
	}
	if _, ok := f.instances[name]; !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, name)
	}
	delete(f.instances, name)
	f.record("DeleteDatabaseInstance %s", name)
	return nil
}

// CreateSchema implements Client.
func (f *Fake) CreateSchema(ctx context.Context, instance, schema string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateSchema"); err != nil {
		return err
	}
	if _, ok := f.instances[instance]; !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, instance)
	}
	if f.schemas[instance][schema] {
		return fmt.Errorf("%w: schema %s", ErrAlreadyExists, schema)
	}
	if f.schemas[instance] == nil {
		f.schemas[instance] = make(map[string]bool)
	}
	f.schemas[instance][schema] = true
	f.record("CreateSchema %s.%s", instance, schema)
	return nil
}

// ListGrants implements Client. Listing grants on an absent schema
// returns ErrNotFound.
func (f *Fake) ListGrants(ctx context.Context, instance, schema string) ([]SchemaGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListGrants"); err != nil {
		return nil, err
	}
	if !f.schemas[instance][schema] {
		return nil, fmt.Errorf("%w: schema %s.%s", ErrNotFound, instance, schema)
	}
	return append([]SchemaGrant(nil), f.schemaGrants[instance+"/"+schema]...), nil
}

// AddGrant implements Client.
func (f *Fake) AddGrant(ctx context.Context, instance, schema string, grant SchemaGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("AddGrant"); err != nil {
		return err
	}
	key := instance + "/" + schema
	f.schemaGrants[key] = append(f.schemaGrants[key], grant)
	f.record("AddGrant %s %s=%s", key, grant.Principal, grant.Privilege)
	return nil
}

// GenerateDatabaseCredential implements Client.
func (f *Fake) GenerateDatabaseCredential(ctx context.Context, requestID, instance string) (*DatabaseCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GenerateDatabaseCredential"); err != nil {
		return nil, err
	}
	if _, ok := f.instances[instance]; !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, instance)
	}
	f.record("GenerateDatabaseCredential %s", instance)
	return &DatabaseCredential{Token: "fake-token-" + requestID}, nil
}

// GetApp implements Client. Each Get advances a scripted status sequence
// when one is set.
func (f *Fake) GetApp(ctx context.Context, name string) (*App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetApp"); err != nil {
		return nil, err
	}
	app, ok := f.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: app %s", ErrNotFound, name)
	}
	if seq := f.appStatuses[name]; len(seq) > 0 {
		app.Status = seq[0]
		f.appStatuses[name] = seq[1:]
	} else if !app.Status.IsTerminal() {
		app.Status = AppReady
		app.URL = "https://" + name + ".apps.fake"
	}
	copied := *app
	return &copied, nil
}

// CreateApp implements Client.
func (f *Fake) CreateApp(ctx context.Context, spec AppSpec) (*App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateApp"); err != nil {
		return nil, err
	}
	if _, exists := f.apps[spec.Name]; exists {
		return nil, fmt.Errorf("%w: app %s", ErrAlreadyExists, spec.Name)
	}
	app := &App{Spec: spec, Status: AppPending}
	f.apps[spec.Name] = app
	f.record("CreateApp %s", spec.Name)
	copied := *app
	return &copied, nil
}

// UpdateApp implements Client.
func (f *Fake) UpdateApp(ctx context.Context, name string, spec AppSpec) (*App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UpdateApp"); err != nil {
		return nil, err
	}
	app, ok := f.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: app %s", ErrNotFound, name)
	}
	app.Spec = spec
	app.Status = AppDeploying
	f.record("UpdateApp %s", name)
	copied := *app
	return &copied, nil
}

// DeleteApp implements Client.
func (f *Fake) DeleteApp(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteApp"); err != nil {
		return err
	}
	if _, ok := f.apps[name]; !ok {
		return fmt.Errorf("%w: app %s", ErrNotFound, name)
	}
	delete(f.apps, name)
	f.record("DeleteApp %s", name)
	return nil
}

// ListAppGrants implements Client.
func (f *Fake) ListAppGrants(ctx context.Context, name string) ([]AppGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListAppGrants"); err != nil {
		return nil, err
	}
	return append([]AppGrant(nil), f.appGrants[name]...), nil
}

// AddAppGrant implements Client.
func (f *Fake) AddAppGrant(ctx context.Context, name string, grant AppGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("AddAppGrant"); err != nil {
		return err
	}
	f.appGrants[name] = append(f.appGrants[name], grant)
	f.record("AddAppGrant %s %s=%s", name, grant.Principal, grant.Level)
	return nil
}
