// Package runtime manages images and containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon. Base images are pulled from a
// registry, or imported from a local OCI archive and tagged with a
// deterministic name, then unpacked for the target platform.
//
// Each [Container] wraps a running containerd task used as a build sandbox.
// Commands are executed inside it, files are copied in as tar streams, and
// the filesystem changes are committed as a new image layer with an updated
// config. Committed images are ordinary containerd image records, so later
// builds find them again by name. [Runtime.Export] writes any image to an OCI
// archive, and [Runtime.RunImage] starts an image's entrypoint and waits for
// it to exit.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.Config{
//	    Address:   "/run/containerd/containerd.sock",
//	    Namespace: "kilnd",
//	})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	base, err := rt.ResolveBase(ctx, "python:3.12-slim", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//
//	ctr, err := rt.StartContainer(ctx, base.Name, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	if _, err := ctr.Exec(ctx, []string{"/bin/sh", "-c", "pip install flask"}, nil, "/app"); err != nil {
//	    return err
//	}
//	if err := ctr.Stop(ctx); err != nil {
//	    return err
//	}
//	img, err := ctr.Commit(ctx, "myapp:dev", runtime.ImageConfig{
//	    History: []string{"RUN pip install flask"},
//	})
//	if err != nil {
//	    return err
//	}
package runtime
