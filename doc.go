/*Package phoenix is a shared-memory MapReduce engine for a single machine.

A Job supplies the map, reduce, split, partition and comparison callbacks; a
Driver runs it across three pools of worker goroutines, one pool per phase:

	Split -> Map -> intermediate store -> Reduce -> final store -> Merge

Map workers pull work units from a splitter and insert their emissions into
per-worker sorted runs, grouping values that share a key. Reduce workers claim
reduce tasks from a shared counter, k-way merge the task's runs across map
workers and hand every key with all of its values to the reducer. Merge
workers repeatedly combine the sorted reduce outputs until one run remains,
which is returned in ascending key order.

Phases never overlap. Bulk data is partitioned by worker or task for its whole
lifetime, so the only locks taken are on the splitter cursor and the reduce
task counter.

Worker threads can optionally be pinned to CPUs, which is useful for the
cache-sensitive analytics this engine was designed for (word counts,
histograms, k-means, regression, matrix products).
*/
package phoenix
